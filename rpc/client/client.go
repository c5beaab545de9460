package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/ValentinKolb/ugKV/rpc/transport/tcp"
	"github.com/ValentinKolb/ugKV/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

var (
	// ErrServer wraps the message of a response with status Error
	ErrServer = errors.New("server error")
	// ErrUnexpectedResponse is returned if a response does not match its request
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Client is a typed key-value client on top of a client transport.
//
// Thread-safety: All methods are thread-safe. Concurrent requests are
// pipelined on the same connection.
type Client struct {
	config    common.ClientConfig
	transport transport.IClientTransport
}

// NewClient connects the transport and returns a client using it
func NewClient(config common.ClientConfig, transport transport.IClientTransport) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &Client{config: config, transport: transport}, nil
}

// Dial connects to a server using the transport named in the config
func Dial(config common.ClientConfig) (*Client, error) {
	var t transport.IClientTransport
	switch config.Transport {
	case common.TransportTCP:
		t = tcp.NewTCPClientTransport()
	case common.TransportUnix:
		t = unix.NewUnixClientTransport()
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", common.ErrInvalidConfig, config.Transport)
	}
	return NewClient(config, t)
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Set stores value under key and returns the value the server stored
func (c *Client) Set(key, value []byte) ([]byte, error) {
	if !proto.CheckLen(len(key)) || !proto.CheckLen(len(value)) {
		return nil, fmt.Errorf("%w: key or value exceeds 32-bit length", proto.ErrPayloadTooLarge)
	}

	resp, err := c.invoke(proto.KindSet, proto.EncodeSet(key, value))
	if err != nil {
		return nil, err
	}
	if resp.Status != proto.StatusOK {
		return nil, fmt.Errorf("%w: SET answered with %s", ErrUnexpectedResponse, resp.Status)
	}
	return resp.Payload, nil
}

// Get returns the value stored under key.
// The boolean is false if the key does not exist.
func (c *Client) Get(key []byte) ([]byte, bool, error) {
	resp, err := c.invoke(proto.KindGet, proto.EncodeKey(key))
	if err != nil {
		return nil, false, err
	}
	switch resp.Status {
	case proto.StatusOK:
		return resp.Payload, true, nil
	case proto.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: GET answered with %s", ErrUnexpectedResponse, resp.Status)
	}
}

// Delete removes key and reports whether it existed
func (c *Client) Delete(key []byte) (bool, error) {
	resp, err := c.invoke(proto.KindDelete, proto.EncodeKey(key))
	if err != nil {
		return false, err
	}
	switch resp.Status {
	case proto.StatusOK:
		return true, nil
	case proto.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: DELETE answered with %s", ErrUnexpectedResponse, resp.Status)
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// invoke sends one request and checks the response for errors and a matching kind
func (c *Client) invoke(kind proto.Kind, payload []byte) (proto.Response, error) {
	resp, err := c.transport.Send(kind, payload)
	if err != nil {
		return proto.Response{}, err
	}

	if resp.Status == proto.StatusError {
		return proto.Response{}, fmt.Errorf("%w: %s", ErrServer, resp.Payload)
	}

	if resp.Kind != kind {
		Logger.Warningf("response kind %s does not match request kind %s", resp.Kind, kind)
		return proto.Response{}, fmt.Errorf("%w: kind %s, expected %s", ErrUnexpectedResponse, resp.Kind, kind)
	}

	return resp, nil
}
