package transport

import (
	"errors"
	"net"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/rpc/common"
)

var (
	ErrConnNotFound    = errors.New("transport: connection not found")
	ErrTransportClosed = errors.New("transport: closed")
	ErrRequestTimeout  = errors.New("transport: request timed out")
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ConnHandler receives the lifecycle events and the raw bytes of every
// connection a server transport accepts. Connection ids are issued by the
// transport, start at 1 and are never reused.
type ConnHandler interface {
	// Accept is called before the first read of a new connection.
	// Returning an error rejects the connection, it is closed immediately.
	Accept(id uint64) error
	// Deliver is called with every chunk read from the connection, in order.
	// data is only valid during the call. Returning an error closes the connection.
	Deliver(id uint64, data []byte) error
	// Closed is called exactly once for every accepted connection after its
	// reader stopped.
	Closed(id uint64)
}

// IServerTransport is the interface for the server side of a stream transport
type IServerTransport interface {
	// RegisterHandler registers the handler for all connection events.
	// It must be called before Listen.
	RegisterHandler(handler ConnHandler)
	// Listen starts accepting connections in the background and returns the
	// address the transport is bound to
	Listen(config common.ServerConfig) (net.Addr, error)
	// WriteOut writes data to a connection. Writes to the same connection are
	// serialized. Writing to an unknown or closed connection returns an error.
	WriteOut(id uint64, data []byte) error
	// Close stops accepting, closes every connection and waits for all readers
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientTransport is the interface for the client side of a stream transport
type IClientTransport interface {
	// Connect dials the endpoint of the configuration
	Connect(config common.ClientConfig) error
	// Send writes one request frame and waits for the response with the same request id
	Send(kind proto.Kind, payload []byte) (proto.Response, error)
	// Close closes the connection, pending requests fail
	Close() error
}
