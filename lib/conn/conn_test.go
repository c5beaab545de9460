package conn

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/lib/queue"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// collector records every submitted command
type collector struct {
	mu   sync.Mutex
	cmds []*queue.Command
	err  error
}

func (c *collector) Enqueue(cmd *queue.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cmds = append(c.cmds, cmd)
	return nil
}

func (c *collector) commands() []*queue.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*queue.Command(nil), c.cmds...)
}

func setFrame(reqID uint32, key, value string) []byte {
	return proto.EncodeFrame(proto.KindSet, reqID, proto.EncodeSet([]byte(key), []byte(value)))
}

func getFrame(reqID uint32, key string) []byte {
	return proto.EncodeFrame(proto.KindGet, reqID, proto.EncodeKey([]byte(key)))
}

func newOpenRegistry(t *testing.T, opts Options, sink CommandSink, id ID) *Registry {
	t.Helper()
	r := NewRegistry(opts, sink)
	if err := r.Open(id); err != nil {
		t.Fatalf("Open(%d) failed: %v", id, err)
	}
	return r
}

// --------------------------------------------------------------------------
// Buffer
// --------------------------------------------------------------------------

func TestBuffer(t *testing.T) {
	t.Run("AppendAndConsume", func(t *testing.T) {
		var b Buffer
		b.Append([]byte("hello"))
		b.Append([]byte(" world"))
		if b.Len() != 11 {
			t.Fatalf("expected 11 bytes, got %d", b.Len())
		}

		b.Consume(6)
		if got := string(b.Bytes()); got != "world" {
			t.Errorf("expected %q after consume, got %q", "world", got)
		}

		b.Append([]byte("!"))
		if got := string(b.Bytes()); got != "world!" {
			t.Errorf("expected %q after append, got %q", "world!", got)
		}
	})

	t.Run("ConsumeClamps", func(t *testing.T) {
		var b Buffer
		b.Append([]byte("abc"))
		b.Consume(0)
		b.Consume(-1)
		if b.Len() != 3 {
			t.Errorf("non-positive consume changed length to %d", b.Len())
		}
		b.Consume(10)
		if b.Len() != 0 {
			t.Errorf("expected empty buffer, got %d bytes", b.Len())
		}
	})

	t.Run("Reset", func(t *testing.T) {
		var b Buffer
		b.Append([]byte("abc"))
		b.Reset()
		if b.Len() != 0 || b.Bytes() != nil {
			t.Errorf("expected released buffer after reset")
		}
	})

	t.Run("NoBytesLost", func(t *testing.T) {
		var b Buffer
		var want []byte
		for i := 0; i < 100; i++ {
			chunk := bytes.Repeat([]byte{byte(i)}, i%7+1)
			b.Append(chunk)
			want = append(want, chunk...)
			if i%3 == 0 {
				b.Consume(2)
				want = want[min(2, len(want)):]
			}
		}
		if !bytes.Equal(b.Bytes(), want) {
			t.Errorf("buffer diverged from expected content")
		}
	})
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestOpenClose(t *testing.T) {
	r := NewRegistry(Options{MaxConnections: 2}, &collector{})

	if err := r.Open(0); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for id 0, got %v", err)
	}
	if err := r.Open(1); err != nil {
		t.Fatalf("Open(1) failed: %v", err)
	}
	if err := r.Open(1); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
	if err := r.Open(2); err != nil {
		t.Fatalf("Open(2) failed: %v", err)
	}
	if err := r.Open(3); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 open connections, got %d", r.Len())
	}

	if err := r.Close(0); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID for id 0, got %v", err)
	}
	if err := r.Close(1); err != nil {
		t.Fatalf("Close(1) failed: %v", err)
	}
	if err := r.Close(1); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen on double close, got %v", err)
	}
	if r.IsOpen(1) {
		t.Errorf("connection 1 still reported open")
	}

	// the freed slot can be reused by a new id
	if err := r.Open(3); err != nil {
		t.Errorf("Open(3) after close failed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 open connections, got %d", r.Len())
	}

	if _, err := r.Deliver(1, getFrame(1, "a")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen for closed connection, got %v", err)
	}
}

func TestConcurrentOpenRespectsLimit(t *testing.T) {
	const limit = 16
	r := NewRegistry(Options{MaxConnections: limit}, &collector{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			if err := r.Open(id); err == nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(ID(i))
	}
	wg.Wait()

	if opened != limit || r.Len() != limit {
		t.Errorf("expected exactly %d open connections, opened=%d len=%d", limit, opened, r.Len())
	}
}

// --------------------------------------------------------------------------
// Frame Extraction
// --------------------------------------------------------------------------

func TestDeliverMultipleFramesInOneChunk(t *testing.T) {
	sink := &collector{}
	r := newOpenRegistry(t, Options{}, sink, 7)

	data := append(setFrame(1, "a", "1"), setFrame(2, "b", "2")...)
	frames, err := r.Deliver(7, data)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if frames != 2 {
		t.Fatalf("expected 2 frames, got %d", frames)
	}

	cmds := sink.commands()
	for i, cmd := range cmds {
		if cmd.ConnID != 7 || cmd.Kind != proto.KindSet || cmd.RequestID != uint32(i+1) {
			t.Errorf("unexpected command %d: %+v", i, cmd)
		}
	}
	key, value, err := proto.DecodeSet(cmds[1].Payload)
	if err != nil || string(key) != "b" || string(value) != "2" {
		t.Errorf("unexpected second payload: key=%q value=%q err=%v", key, value, err)
	}
	if r.Buffered(7) != 0 {
		t.Errorf("expected empty buffer, got %d bytes", r.Buffered(7))
	}
}

func TestDeliverEverySplitPoint(t *testing.T) {
	stream := append(setFrame(1, "key", "value"), getFrame(2, "key")...)

	check := func(t *testing.T, sink *collector) {
		t.Helper()
		cmds := sink.commands()
		if len(cmds) != 2 {
			t.Fatalf("expected 2 commands, got %d", len(cmds))
		}
		if cmds[0].Kind != proto.KindSet || cmds[0].RequestID != 1 {
			t.Errorf("unexpected first command: %+v", cmds[0])
		}
		if cmds[1].Kind != proto.KindGet || cmds[1].RequestID != 2 {
			t.Errorf("unexpected second command: %+v", cmds[1])
		}
	}

	t.Run("TwoChunks", func(t *testing.T) {
		for split := 0; split <= len(stream); split++ {
			sink := &collector{}
			r := newOpenRegistry(t, Options{}, sink, 1)
			if _, err := r.Deliver(1, stream[:split]); err != nil {
				t.Fatalf("split %d: first Deliver failed: %v", split, err)
			}
			if _, err := r.Deliver(1, stream[split:]); err != nil {
				t.Fatalf("split %d: second Deliver failed: %v", split, err)
			}
			check(t, sink)
		}
	})

	t.Run("ThreeChunks", func(t *testing.T) {
		for i := 0; i <= len(stream); i++ {
			for j := i; j <= len(stream); j++ {
				sink := &collector{}
				r := newOpenRegistry(t, Options{}, sink, 1)
				for _, chunk := range [][]byte{stream[:i], stream[i:j], stream[j:]} {
					if _, err := r.Deliver(1, chunk); err != nil {
						t.Fatalf("split %d/%d: Deliver failed: %v", i, j, err)
					}
				}
				check(t, sink)
			}
		}
	})

	t.Run("ByteByByte", func(t *testing.T) {
		sink := &collector{}
		r := newOpenRegistry(t, Options{}, sink, 1)
		total := 0
		for i := range stream {
			n, err := r.Deliver(1, stream[i:i+1])
			if err != nil {
				t.Fatalf("byte %d: Deliver failed: %v", i, err)
			}
			total += n
		}
		if total != 2 {
			t.Errorf("expected 2 frames in total, got %d", total)
		}
		check(t, sink)
	})
}

func TestDeliverPartialHeader(t *testing.T) {
	sink := &collector{}
	r := newOpenRegistry(t, Options{}, sink, 1)

	frame := getFrame(1, "a")
	frames, err := r.Deliver(1, frame[:proto.HeaderSize-1])
	if err != nil || frames != 0 {
		t.Fatalf("expected no frames and no error, got %d, %v", frames, err)
	}
	if r.Buffered(1) != proto.HeaderSize-1 {
		t.Errorf("expected %d buffered bytes, got %d", proto.HeaderSize-1, r.Buffered(1))
	}
}

func TestDeliverEmptyPayload(t *testing.T) {
	sink := &collector{}
	r := newOpenRegistry(t, Options{}, sink, 1)

	frames, err := r.Deliver(1, proto.EncodeFrame(proto.KindGet, 9, nil))
	if err != nil || frames != 1 {
		t.Fatalf("expected one frame, got %d, %v", frames, err)
	}
	if cmd := sink.commands()[0]; len(cmd.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(cmd.Payload))
	}
}

func TestDeliverCopiesPayload(t *testing.T) {
	sink := &collector{}
	r := newOpenRegistry(t, Options{}, sink, 1)

	data := setFrame(1, "k", "v")
	if _, err := r.Deliver(1, data); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	for i := range data {
		data[i] = 0xff
	}

	key, value, err := proto.DecodeSet(sink.commands()[0].Payload)
	if err != nil || string(key) != "k" || string(value) != "v" {
		t.Errorf("payload changed with the input slice: key=%q value=%q err=%v", key, value, err)
	}
}

// --------------------------------------------------------------------------
// Fatal Errors
// --------------------------------------------------------------------------

func TestDeliverPayloadTooLarge(t *testing.T) {
	sink := &collector{}
	r := newOpenRegistry(t, Options{MaxPayloadSize: 16}, sink, 1)

	data := append(getFrame(1, "a"), setFrame(2, "key", "a value that is too long")...)
	frames, err := r.Deliver(1, data)
	if !errors.Is(err, proto.ErrPayloadTooLarge) || !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected payload too large violation, got %v", err)
	}
	if frames != 1 {
		t.Errorf("expected the valid frame before the violation to be submitted, got %d", frames)
	}
	if r.IsOpen(1) || r.Len() != 0 {
		t.Errorf("connection not torn down after violation")
	}
	if _, err := r.Deliver(1, getFrame(3, "a")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after teardown, got %v", err)
	}
	if err := r.Close(1); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen when closing torn down connection, got %v", err)
	}
}

func TestDeliverOversizedHeaderOnly(t *testing.T) {
	r := newOpenRegistry(t, Options{MaxPayloadSize: 16}, &collector{}, 1)

	// the header alone is enough to reject the frame
	header := make([]byte, proto.HeaderSize)
	proto.Header{PayloadSize: 1 << 30, Kind: proto.KindSet, RequestID: 1}.Encode(header)
	if _, err := r.Deliver(1, header); !errors.Is(err, proto.ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDeliverEnqueueFailure(t *testing.T) {
	sink := &collector{err: queue.ErrQueueClosed}
	r := newOpenRegistry(t, Options{}, sink, 1)

	if _, err := r.Deliver(1, getFrame(1, "a")); !errors.Is(err, queue.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if r.IsOpen(1) || r.Len() != 0 {
		t.Errorf("connection not torn down after enqueue failure")
	}
}

// --------------------------------------------------------------------------
// Concurrency
// --------------------------------------------------------------------------

func TestConcurrentConnections(t *testing.T) {
	const conns = 32
	const perConn = 100

	sink := &collector{}
	r := NewRegistry(Options{}, sink)

	var wg sync.WaitGroup
	for c := 1; c <= conns; c++ {
		if err := r.Open(ID(c)); err != nil {
			t.Fatalf("Open(%d) failed: %v", c, err)
		}
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			var stream []byte
			for i := 0; i < perConn; i++ {
				stream = append(stream, setFrame(uint32(i), fmt.Sprintf("k%d", id), fmt.Sprint(i))...)
			}
			// uneven chunks
			for len(stream) > 0 {
				n := min(len(stream), 13)
				if _, err := r.Deliver(id, stream[:n]); err != nil {
					t.Errorf("Deliver(%d) failed: %v", id, err)
					return
				}
				stream = stream[n:]
			}
		}(ID(c))
	}
	wg.Wait()

	// per connection the request ids must arrive in order
	next := make(map[ID]uint32)
	for _, cmd := range sink.commands() {
		if cmd.RequestID != next[cmd.ConnID] {
			t.Fatalf("connection %d: expected request %d, got %d", cmd.ConnID, next[cmd.ConnID], cmd.RequestID)
		}
		next[cmd.ConnID]++
	}
	for c := 1; c <= conns; c++ {
		if next[ID(c)] != perConn {
			t.Errorf("connection %d: expected %d commands, got %d", c, perConn, next[ID(c)])
		}
	}
}
