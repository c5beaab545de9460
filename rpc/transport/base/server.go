package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// defaultReadBufferSize is used when the configuration does not set one
const defaultReadBufferSize = 64 * 1024

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is one accepted connection
type serverConn struct {
	id      uint64
	conn    net.Conn
	writeMu sync.Mutex // serializes writes of concurrent workers
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ConnHandler
	config     common.ServerConfig
	listener   net.Listener
	bufferPool *sync.Pool
	conns      *xsync.MapOf[uint64, *serverConn]
	nextID     atomic.Uint64
	closing    atomic.Bool
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport.
// Each accepted connection is served by one reader goroutine.
func NewBaseServerTransport(connector IServerConnector) transport.IServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[uint64, *serverConn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ConnHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) (net.Addr, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("no handler registered")
	}
	t.config = config

	bufferSize := config.ReadBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultReadBufferSize
	}
	t.bufferPool = &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, bufferSize)
			return &buf
		},
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	t.wg.Add(1)
	go t.acceptLoop()

	return listener.Addr(), nil
}

func (t *serverTransport) WriteOut(id uint64, data []byte) error {
	sc, ok := t.conns.Load(id)
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrConnNotFound, id)
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if timeout := time.Duration(t.config.TimeoutSecond) * time.Second; timeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := sc.conn.Write(data); err != nil {
		// a failed write leaves a partial frame on the stream, the connection is unusable
		_ = sc.conn.Close()
		return fmt.Errorf("failed to write to connection %d: %w", id, err)
	}
	return nil
}

func (t *serverTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return transport.ErrTransportClosed
	}

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	// closing the sockets unblocks every reader
	t.conns.Range(func(_ uint64, sc *serverConn) bool {
		_ = sc.conn.Close()
		return true
	})

	t.wg.Wait()
	Logger.Infof("Stopped %s server", t.connector.GetName())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (t *serverTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		id := t.nextID.Add(1)
		if err := t.handler.Accept(id); err != nil {
			Logger.Warningf("Rejected connection %d from %s: %v", id, conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		sc := &serverConn{id: id, conn: conn}
		t.conns.Store(id, sc)

		// a connection accepted while closing would never be closed by Close
		if t.closing.Load() {
			_ = conn.Close()
		}

		t.wg.Add(1)
		go t.handleConnection(sc)
	}
}

// handleConnection reads from one connection until it fails or is closed
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer t.wg.Done()
	defer func() {
		t.conns.Delete(sc.id)
		_ = sc.conn.Close()
		t.handler.Closed(sc.id)
	}()

	Logger.Debugf("Connection %d opened from %s", sc.id, sc.conn.RemoteAddr())

	for {
		bufPtr := t.bufferPool.Get().(*[]byte)
		n, err := sc.conn.Read(*bufPtr)

		if n > 0 {
			deliverErr := t.handler.Deliver(sc.id, (*bufPtr)[:n])
			t.bufferPool.Put(bufPtr)
			if deliverErr != nil {
				Logger.Warningf("Closing connection %d: %v", sc.id, deliverErr)
				return
			}
		} else {
			t.bufferPool.Put(bufPtr)
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				Logger.Debugf("Connection %d closed by client", sc.id)
			case t.closing.Load() || errors.Is(err, net.ErrClosed):
				Logger.Debugf("Connection %d closed", sc.id)
			default:
				Logger.Errorf("Error reading from connection %d: %v", sc.id, err)
			}
			return
		}
	}
}
