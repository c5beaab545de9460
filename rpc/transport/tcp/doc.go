// Package tcp implements the TCP socket transport of the key-value store.
// It provides the TCP connectors for the base package, which carries the
// actual connection handling.
//
// Key Components:
//
//   - clientConnector: Dials TCP endpoints with Nagle's algorithm disabled
//
//   - serverConnector: Creates TCP listeners and applies the socket options
//     of the server configuration (no delay, read buffer, keep-alive)
package tcp
