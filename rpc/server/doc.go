// Package server implements the key-value server.
//
// A server connects a stream transport to the storage and dispatch pipeline.
// Raw bytes received on a connection are reassembled into frames by the
// connection registry, queued as commands and executed against the hash
// table by a fixed pool of workers. Each worker writes a framed response,
// echoing the request id, back through the transport.
//
// Key Components:
//
//   - Server: Lifecycle (Start, Shutdown, Serve) and component wiring
//
//   - connHandler: Adapter from transport connection events to the registry
//
//   - serverMetrics: Prometheus metrics of the server, optionally served on
//     an HTTP endpoint
//
// Ordering:
//
//	Commands of one connection are queued in the order they arrived. With more
//	than one worker two commands of the same connection may complete out of
//	order, clients correlate responses by request id. A server with a single
//	worker answers every connection strictly in order.
package server
