// Package queue decouples network I/O from command execution.
//
// Connections decode frames into Commands and Enqueue them; a fixed Pool of
// workers Dequeues them in FIFO order and executes each one against the hash
// table outside the queue lock, so slow commands never block producers.
//
// Key Components:
//
//   - Queue: unbounded linked-list FIFO guarded by a sync.Mutex. Consumers
//     wait on a sync.Cond while the queue is empty; every Enqueue wakes exactly
//     one of them. Close wakes all of them, queued commands are still handed
//     out until the queue is drained.
//
//   - Pool: the workers. Stop closes the queue and waits until every queued
//     command has been executed.
//
//   - Executor: applies SET, GET and DELETE to a table.Table and writes one
//     framed response (see package proto) per command back to the originating
//     connection.
//
// Ordering:
//
//	Dequeue order equals Enqueue order. With more than one worker, two
//	commands from the same connection may still finish in either order;
//	responses carry the request id so clients can match them.
package queue
