// Package transport defines the interfaces for the stream transports of the
// key-value store.
//
// Key Components:
//
//   - IServerTransport: Accepts connections, hands their raw bytes to a
//     ConnHandler and writes responses back by connection id.
//
//   - ConnHandler: Callbacks for the accept, receive and close events of a
//     connection.
//
//   - IClientTransport: Sends request frames and correlates the responses by
//     request id.
//
// Implementations live in the tcp and unix subpackages, both built on the
// protocol-agnostic base package.
package transport
