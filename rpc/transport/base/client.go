package base

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	resp proto.Response
	err  error
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
//
// Requests are pipelined on one connection. A background reader matches
// every response to its waiting request by request id.
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	conn          net.Conn
	writeMu       sync.Mutex // Protects writes to the connection
	pending       *xsync.MapOf[uint32, chan responseResult]
	nextRequestID atomic.Uint32
	closed        atomic.Bool
	done          chan struct{} // Closed when the reader stops
	readErr       atomic.Value  // error that stopped the reader
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IClientTransport {
	return &clientTransport{
		connector: connector,
		pending:   xsync.NewMapOf[uint32, chan responseResult](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if t.conn != nil {
		return fmt.Errorf("already connected")
	}
	if config.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	t.config = config

	conn, err := t.connector.Connect(config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", config.Endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", config.Endpoint, err)
	}

	t.conn = conn
	t.done = make(chan struct{})
	go t.readResponses()

	Logger.Debugf("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(kind proto.Kind, payload []byte) (proto.Response, error) {
	if t.conn == nil {
		return proto.Response{}, fmt.Errorf("not connected")
	}
	if t.closed.Load() {
		return proto.Response{}, transport.ErrTransportClosed
	}

	requestID := t.nextRequestID.Add(1)

	// Register the request before writing so the response cannot overtake it
	respCh := make(chan responseResult, 1)
	t.pending.Store(requestID, respCh)
	defer t.pending.Delete(requestID)

	frame := proto.EncodeFrame(kind, requestID, payload)

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	t.writeMu.Lock()
	if timeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := t.conn.Write(frame)
	t.writeMu.Unlock()

	if err != nil {
		return proto.Response{}, fmt.Errorf("failed to send request %d: %w", requestID, err)
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.resp, result.err
	case <-t.done:
		// the reader may have delivered the response right before stopping
		select {
		case result := <-respCh:
			return result.resp, result.err
		default:
		}
		return proto.Response{}, t.connectionError()
	case <-timeoutCh:
		return proto.Response{}, fmt.Errorf("%w: request %d after %s", transport.ErrRequestTimeout, requestID, timeout)
	}
}

func (t *clientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	<-t.done
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readResponses reads responses in a loop and distributes them to waiting requests
func (t *clientTransport) readResponses() {
	defer close(t.done)

	for {
		resp, err := proto.ReadResponse(t.conn, 0)
		if err != nil {
			if !t.closed.Load() {
				Logger.Warningf("Connection to %s lost: %v", t.config.Endpoint, err)
			}
			t.readErr.Store(err)
			return
		}

		respCh, found := t.pending.Load(resp.RequestID)
		if !found {
			// the request already timed out
			Logger.Warningf("Received response for unknown request ID %d", resp.RequestID)
			continue
		}

		select {
		case respCh <- responseResult{resp: resp}:
		default:
			Logger.Warningf("Received duplicate response for request ID %d", resp.RequestID)
		}
	}
}

// connectionError returns the error that stopped the reader
func (t *clientTransport) connectionError() error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if err, ok := t.readErr.Load().(error); ok {
		return fmt.Errorf("connection lost: %w", err)
	}
	return errors.New("connection lost")
}
