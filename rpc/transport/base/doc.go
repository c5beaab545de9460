// Package base provides the protocol-agnostic core of the stream transports.
// It is extended with protocol-specific connectors by the tcp and unix packages.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     (listening, dialing and socket tuning).
//
//   - serverTransport: Accepts connections, issues monotonically increasing
//     connection ids and runs one reader goroutine per connection. Raw chunks
//     are read into pooled buffers and handed to the registered ConnHandler,
//     which must copy what it keeps. Writes are serialized per connection and
//     bounded by a write deadline.
//
//   - clientTransport: Pipelines request frames on a single connection and
//     correlates the responses by request id using a background reader.
//
// Thread Safety:
//
//	All public methods are thread-safe. The server creates a dedicated
//	goroutine for each connection, the client a single reader goroutine.
package base
