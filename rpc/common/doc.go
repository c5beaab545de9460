// Package common provides configuration structures and utilities shared by
// the server, the client and the command line interface.
//
// Key Components:
//
//   - ServerConfig: Transport, connection limit, worker and table settings of
//     a server. Validate reports every invalid field at once.
//
//   - ClientConfig: Endpoint, transport and timeout of a client.
//
//   - Logger: Custom implementation of dragonboats logger.ILogger producing
//     "LEVEL | package | message" lines, installed by InitLoggers.
package common
