// Package rpc provides the network layer of the key-value store. It carries
// the binary frames of the lib/proto package between clients and the server.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures and logging shared by all components.
//
//   - transport: Stream transport abstractions with TCP and Unix socket
//     implementations.
//
//   - client: Typed client for the SET, GET and DELETE commands.
//
//   - server: The server wiring transport, connection registry, command
//     queue, worker pool and hash table.
package rpc
