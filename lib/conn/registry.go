package conn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/lib/queue"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("conn")

// --------------------------------------------------------------------------
// Constants and Errors
// --------------------------------------------------------------------------

// DefaultMaxConnections is the default limit of simultaneously open connections
const DefaultMaxConnections = 8192

var (
	ErrInvalidID        = errors.New("conn: invalid connection id")
	ErrAlreadyOpen      = errors.New("conn: connection already open")
	ErrNotOpen          = errors.New("conn: connection not open")
	ErrCapacityExceeded = errors.New("conn: too many connections")
	// ErrProtocolViolation wraps every framing error that ends a connection
	ErrProtocolViolation = errors.New("conn: protocol violation")
)

// ID identifies a connection. Zero is never a valid id.
type ID = uint64

// CommandSink receives every decoded command
type CommandSink interface {
	Enqueue(cmd *queue.Command) error
}

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// state is everything the registry tracks for one live connection
type state struct {
	id   ID
	mu   sync.Mutex // serializes Deliver and Close for this connection
	live bool
	buf  Buffer
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Options configures a Registry
type Options struct {
	MaxConnections int    // Upper bound of simultaneously open connections (0 = default)
	MaxPayloadSize uint32 // Largest accepted frame payload (0 = proto.DefaultMaxPayloadSize)
}

// Registry owns the state of all open connections and turns the raw bytes
// received on them into commands.
type Registry struct {
	conns      *xsync.MapOf[ID, *state]
	open       atomic.Int64
	maxConns   int64
	maxPayload uint32
	sink       CommandSink
}

// NewRegistry creates a registry that hands decoded commands to sink
func NewRegistry(opts Options, sink CommandSink) *Registry {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.MaxPayloadSize == 0 {
		opts.MaxPayloadSize = proto.DefaultMaxPayloadSize
	}
	return &Registry{
		conns:      xsync.NewMapOf[ID, *state](),
		maxConns:   int64(opts.MaxConnections),
		maxPayload: opts.MaxPayloadSize,
		sink:       sink,
	}
}

// Open registers a new connection.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Open(id ID) error {
	if id == 0 {
		return ErrInvalidID
	}

	// reserve a slot before publishing the state so the limit is never exceeded
	for {
		n := r.open.Load()
		if n >= r.maxConns {
			return fmt.Errorf("%w (limit %d)", ErrCapacityExceeded, r.maxConns)
		}
		if r.open.CompareAndSwap(n, n+1) {
			break
		}
	}

	if _, loaded := r.conns.LoadOrStore(id, &state{id: id, live: true}); loaded {
		r.open.Add(-1)
		return ErrAlreadyOpen
	}

	Logger.Debugf("opened connection %d", id)
	return nil
}

// Close releases the state of a connection.
// Commands of the connection that are already queued still execute.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Close(id ID) error {
	if id == 0 {
		return ErrInvalidID
	}

	st, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return ErrNotOpen
	}
	r.release(st)

	Logger.Debugf("closed connection %d", id)
	return nil
}

// release marks a removed state as dead and frees its buffer
func (r *Registry) release(st *state) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.live {
		return
	}
	st.live = false
	st.buf.Reset()
	r.open.Add(-1)
}

// teardown removes a connection after a fatal error.
// The caller must hold st.mu.
func (r *Registry) teardown(st *state) {
	r.conns.Compute(st.id, func(cur *state, loaded bool) (*state, bool) {
		// only delete the entry if it still belongs to this state
		if !loaded {
			return cur, true
		}
		return cur, cur == st
	})
	if st.live {
		st.live = false
		st.buf.Reset()
		r.open.Add(-1)
	}
}

// Deliver appends data received on a connection to its buffer and submits
// every complete frame as a command, in arrival order. It returns the number
// of frames submitted.
//
// A protocol violation or a failed submit is fatal for the connection: its
// state is removed and the error is returned so the caller closes the socket.
//
// Thread-safety: Calls for different connections never block each other.
func (r *Registry) Deliver(id ID, data []byte) (int, error) {
	st, ok := r.conns.Load(id)
	if !ok {
		return 0, ErrNotOpen
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.live {
		return 0, ErrNotOpen
	}

	st.buf.Append(data)

	frames := 0
	for {
		buffered := st.buf.Bytes()
		if len(buffered) < proto.HeaderSize {
			return frames, nil
		}

		header, err := proto.ParseHeader(buffered)
		if err != nil {
			r.teardown(st)
			return frames, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}

		if header.PayloadSize > r.maxPayload {
			r.teardown(st)
			return frames, fmt.Errorf("%w: %w (%d > %d)",
				ErrProtocolViolation, proto.ErrPayloadTooLarge, header.PayloadSize, r.maxPayload)
		}

		// partial frame, wait for more bytes
		if len(buffered) < header.FrameSize() {
			return frames, nil
		}

		// the command owns its payload, the buffer is compacted below
		payload := make([]byte, header.PayloadSize)
		copy(payload, buffered[proto.HeaderSize:header.FrameSize()])

		cmd := &queue.Command{
			ConnID:    id,
			Kind:      header.Kind,
			RequestID: header.RequestID,
			Payload:   payload,
		}
		if err := r.sink.Enqueue(cmd); err != nil {
			r.teardown(st)
			return frames, fmt.Errorf("failed to submit command of connection %d: %w", id, err)
		}

		st.buf.Consume(header.FrameSize())
		frames++
	}
}

// IsOpen returns true if the connection is registered
func (r *Registry) IsOpen(id ID) bool {
	_, ok := r.conns.Load(id)
	return ok
}

// Buffered returns the number of bytes waiting for the rest of their frame
func (r *Registry) Buffered(id ID) int {
	st, ok := r.conns.Load(id)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.buf.Len()
}

// Len returns the number of open connections
func (r *Registry) Len() int {
	return int(r.open.Load())
}
