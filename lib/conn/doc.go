/*
Package conn turns the byte stream of a client connection into commands.

Every open connection owns a Buffer. Bytes read from the socket are appended
to it, and every complete frame at its front is decoded, copied into a
queue.Command and handed to a CommandSink, after which the frame is consumed.
Frames are submitted in the order they arrived on the connection.

Key Components:

  - Buffer: Growable reassembly buffer with prefix consumption
  - Registry: Bounded set of open connections keyed by a transport-issued id

A frame whose declared payload exceeds the configured limit, or a command that
cannot be submitted, is fatal for its connection. The registry drops the
connection state and returns the error so the transport can close the socket.

Connection ids are issued monotonically and never reused, a stale id can
therefore never reach the state of a newer connection.
*/
package conn
