// Package unix implements the Unix domain socket transport of the key-value
// store for clients running on the same machine.
//
// Key Components:
//
//   - clientConnector: Dials a socket path
//
//   - serverConnector: Replaces a stale socket file and listens on the path
package unix
