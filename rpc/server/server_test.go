package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/rpc/client"
	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/ValentinKolb/ugKV/rpc/transport/tcp"
	"github.com/ValentinKolb/ugKV/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// startServer starts a TCP server on a random local port
func startServer(t *testing.T, modify func(c *common.ServerConfig)) (*Server, string) {
	t.Helper()

	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	if modify != nil {
		modify(&config)
	}

	var tr transport.IServerTransport
	if config.Transport == common.TransportUnix {
		tr = unix.NewUnixServerTransport()
	} else {
		tr = tcp.NewTCPServerTransport()
	}

	s := NewRPCServer(config, tr)
	addr, err := s.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	return s, addr.String()
}

func dial(t *testing.T, endpoint string, transportType common.TransportType) *client.Client {
	t.Helper()
	c, err := client.Dial(common.ClientConfig{Endpoint: endpoint, Transport: transportType, TimeoutSecond: 5})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func rawConn(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// expectClosed reads from conn and fails unless the server closed it
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_, err := proto.ReadResponse(conn, 0)
	if err == nil {
		t.Fatalf("expected the server to close the connection")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("connection was not closed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Key-Value Operations
// --------------------------------------------------------------------------

func TestSetGet(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	stored, err := c.Set([]byte("a"), []byte("1"))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if string(stored) != "1" {
		t.Errorf("expected SET to answer with %q, got %q", "1", stored)
	}

	value, found, err := c.Get([]byte("a"))
	if err != nil || !found || string(value) != "1" {
		t.Errorf("expected %q, got value=%q found=%v err=%v", "1", value, found, err)
	}
}

func TestOverwrite(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	if _, err := c.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := c.Set([]byte("a"), []byte("22")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := c.Get([]byte("a"))
	if err != nil || !found || string(value) != "22" {
		t.Errorf("expected %q, got value=%q found=%v err=%v", "22", value, found, err)
	}
}

func TestGetMissing(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	value, found, err := c.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found || value != nil {
		t.Errorf("expected missing key, got %q", value)
	}
}

func TestDelete(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	if _, err := c.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if deleted, err := c.Delete([]byte("a")); err != nil || !deleted {
		t.Fatalf("expected delete of existing key, got %v, %v", deleted, err)
	}
	if deleted, err := c.Delete([]byte("a")); err != nil || deleted {
		t.Errorf("expected delete of missing key to report false, got %v, %v", deleted, err)
	}
	if _, found, _ := c.Get([]byte("a")); found {
		t.Errorf("key still present after delete")
	}
}

func TestBinaryKeysAndValues(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	key := []byte{0, 1, 0, 2}
	value := bytes.Repeat([]byte{0, 0xff}, 1000)

	if _, err := c.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, found, err := c.Get(key)
	if err != nil || !found || !bytes.Equal(got, value) {
		t.Errorf("binary value did not round trip: found=%v err=%v", found, err)
	}
	if _, found, _ := c.Get([]byte{0, 1}); found {
		t.Errorf("prefix of a binary key must not match")
	}
}

func TestLargeValue(t *testing.T) {
	_, addr := startServer(t, func(c *common.ServerConfig) { c.ReadBufferSize = 1024 })
	c := dial(t, addr, common.TransportTCP)

	// spans many reads of the server
	value := bytes.Repeat([]byte("x"), 1<<20)
	if _, err := c.Set([]byte("big"), value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, found, err := c.Get([]byte("big"))
	if err != nil || !found || !bytes.Equal(got, value) {
		t.Errorf("large value did not round trip: found=%v len=%d err=%v", found, len(got), err)
	}
}

// --------------------------------------------------------------------------
// Wire Level
// --------------------------------------------------------------------------

func TestFramesInOneWrite(t *testing.T) {
	_, addr := startServer(t, func(c *common.ServerConfig) { c.Workers = 1 })
	conn := rawConn(t, addr)

	var stream []byte
	stream = append(stream, proto.EncodeFrame(proto.KindSet, 1, proto.EncodeSet([]byte("a"), []byte("1")))...)
	stream = append(stream, proto.EncodeFrame(proto.KindSet, 2, proto.EncodeSet([]byte("a"), []byte("22")))...)
	stream = append(stream, proto.EncodeFrame(proto.KindGet, 3, proto.EncodeKey([]byte("a")))...)

	if _, err := conn.Write(stream); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// a single worker answers in order
	want := []struct {
		kind  proto.Kind
		value string
	}{
		{proto.KindSet, "1"},
		{proto.KindSet, "22"},
		{proto.KindGet, "22"},
	}
	for i, w := range want {
		resp, err := proto.ReadResponse(conn, 0)
		if err != nil {
			t.Fatalf("response %d: %v", i+1, err)
		}
		if resp.RequestID != uint32(i+1) || resp.Kind != w.kind || resp.Status != proto.StatusOK || string(resp.Payload) != w.value {
			t.Errorf("response %d: unexpected %+v (payload %q)", i+1, resp, resp.Payload)
		}
	}
}

func TestFrameSplitAcrossWrites(t *testing.T) {
	_, addr := startServer(t, nil)
	conn := rawConn(t, addr)

	frame := proto.EncodeFrame(proto.KindSet, 42, proto.EncodeSet([]byte("key"), []byte("value")))
	for _, chunk := range [][]byte{frame[:3], frame[3:12], frame[12:]} {
		if _, err := conn.Write(chunk); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := proto.ReadResponse(conn, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.RequestID != 42 || resp.Status != proto.StatusOK || string(resp.Payload) != "value" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestUnknownKind(t *testing.T) {
	_, addr := startServer(t, nil)
	conn := rawConn(t, addr)

	if _, err := conn.Write(proto.EncodeFrame(proto.Kind(9), 1, []byte("junk"))); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	resp, err := proto.ReadResponse(conn, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Status != proto.StatusError || resp.RequestID != 1 || len(resp.Payload) == 0 {
		t.Errorf("expected an error response with a message, got %+v", resp)
	}

	// the connection survives the bad command
	if _, err := conn.Write(proto.EncodeFrame(proto.KindGet, 2, proto.EncodeKey([]byte("a")))); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	resp, err = proto.ReadResponse(conn, 0)
	if err != nil || resp.RequestID != 2 || resp.Status != proto.StatusNotFound {
		t.Errorf("expected NotFound for request 2, got %+v, %v", resp, err)
	}
}

func TestOversizedPayloadClosesConnection(t *testing.T) {
	s, addr := startServer(t, func(c *common.ServerConfig) { c.MaxPayloadBytes = 16 })
	conn := rawConn(t, addr)

	header := make([]byte, proto.HeaderSize)
	proto.Header{PayloadSize: 1 << 20, Kind: proto.KindSet, RequestID: 1}.Encode(header)
	if _, err := conn.Write(header); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	expectClosed(t, conn)
	if s.Table().Len() != 0 {
		t.Errorf("table modified by rejected frame")
	}
}

func TestConnectionLimit(t *testing.T) {
	_, addr := startServer(t, func(c *common.ServerConfig) { c.MaxConnections = 1 })

	first := dial(t, addr, common.TransportTCP)
	if _, _, err := first.Get([]byte("a")); err != nil {
		t.Fatalf("first connection failed: %v", err)
	}

	expectClosed(t, rawConn(t, addr))

	// the first connection is unaffected
	if _, err := first.Set([]byte("a"), []byte("1")); err != nil {
		t.Errorf("first connection broken by rejected one: %v", err)
	}
}

// --------------------------------------------------------------------------
// Concurrency
// --------------------------------------------------------------------------

func TestConcurrentClients(t *testing.T) {
	const clients = 8
	const perClient = 100

	s, addr := startServer(t, func(c *common.ServerConfig) {
		c.InitialCapacity = 4
		c.GrowthIncrement = 3
	})

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := dial(t, addr, common.TransportTCP)
		wg.Add(1)
		go func(id int, c *client.Client) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				key := []byte(fmt.Sprintf("client-%d-key-%d", id, j))
				if _, err := c.Set(key, key); err != nil {
					t.Errorf("Set %s failed: %v", key, err)
					return
				}
			}
		}(i, c)
	}
	wg.Wait()

	if s.Table().Len() != clients*perClient {
		t.Fatalf("expected %d entries, got %d", clients*perClient, s.Table().Len())
	}

	c := dial(t, addr, common.TransportTCP)
	for i := 0; i < clients; i++ {
		for j := 0; j < perClient; j++ {
			key := []byte(fmt.Sprintf("client-%d-key-%d", i, j))
			value, found, err := c.Get(key)
			if err != nil || !found || !bytes.Equal(value, key) {
				t.Fatalf("Get %s: value=%q found=%v err=%v", key, value, found, err)
			}
		}
	}
}

func TestPipelinedRequestsOnOneClient(t *testing.T) {
	_, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("k%d", i))
			stored, err := c.Set(key, key)
			if err != nil || !bytes.Equal(stored, key) {
				t.Errorf("Set %s: stored=%q err=%v", key, stored, err)
			}
		}(i)
	}
	wg.Wait()
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestLifecycle(t *testing.T) {
	s := NewRPCServer(common.DefaultServerConfig(), tcp.NewTCPServerTransport())
	if err := s.Shutdown(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	s, addr := startServer(t, nil)
	if _, err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	c := dial(t, addr, common.TransportTCP)
	if _, err := c.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}

	if _, _, err := c.Get([]byte("a")); err == nil {
		t.Errorf("expected requests to fail after shutdown")
	}
}

func TestInvalidConfig(t *testing.T) {
	config := common.DefaultServerConfig()
	config.Workers = 0
	s := NewRPCServer(config, tcp.NewTCPServerTransport())
	if _, err := s.Start(); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestUnixTransport(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ugkv.sock")
	_, addr := startServer(t, func(c *common.ServerConfig) {
		c.Transport = common.TransportUnix
		c.Endpoint = socket
	})

	c := dial(t, addr, common.TransportUnix)
	if _, err := c.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if value, found, err := c.Get([]byte("a")); err != nil || !found || string(value) != "1" {
		t.Errorf("unexpected Get result %q, %v, %v", value, found, err)
	}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func TestMetrics(t *testing.T) {
	s, addr := startServer(t, nil)
	c := dial(t, addr, common.TransportTCP)

	if _, err := c.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, _, err := c.Get([]byte("missing")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.metrics.handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`ugkv_commands_total{kind="SET"} 1`,
		`ugkv_commands_total{kind="GET"} 1`,
		`ugkv_responses_total{status="NotFound"} 1`,
		`ugkv_table_entries 1`,
		`ugkv_connections_open 1`,
		`ugkv_connections_opened_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := startServer(t, func(c *common.ServerConfig) { c.MetricsEndpoint = "127.0.0.1:0" })

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.MetricsAddr()))
	if err != nil {
		t.Fatalf("failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ugkv_table_capacity 4096") {
		t.Errorf("unexpected metrics response %d:\n%s", resp.StatusCode, body)
	}
}
