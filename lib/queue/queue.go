package queue

import (
	"errors"
	"sync"

	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("queue")

// ErrQueueClosed is returned by Enqueue after Close was called
var ErrQueueClosed = errors.New("queue: closed")

// --------------------------------------------------------------------------
// Command
// --------------------------------------------------------------------------

// Command is one decoded client request waiting for execution.
// The payload is owned by the command, it never aliases a connection buffer.
type Command struct {
	ConnID    uint64     // Connection the request arrived on
	Kind      proto.Kind // Requested operation
	RequestID uint32     // Echoed in the response
	Payload   []byte     // Kind specific payload
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// node is a single element of the queue's linked list
type node struct {
	cmd  *Command
	next *node
}

// Queue is an unbounded FIFO of commands shared by many producers and many
// consumers. Consumers block in Dequeue until a command is available.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	head   *node
	tail   *node
	length int
	closed bool
}

// New creates an empty queue
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends cmd to the tail of the queue and wakes one waiting consumer.
// Returns ErrQueueClosed if the queue no longer accepts commands.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue) Enqueue(cmd *Command) error {
	if cmd == nil {
		return errors.New("queue: nil command")
	}

	n := &node{cmd: cmd}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.length++

	q.cond.Signal()
	return nil
}

// Dequeue removes and returns the head of the queue, blocking while the queue
// is empty. The boolean is false once the queue is closed and fully drained.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue) Dequeue() (*Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == nil {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}

	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--

	// help the go gc
	n.next = nil

	return n.cmd, true
}

// Close stops the queue from accepting new commands and wakes all waiting
// consumers. Commands already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// IsClosed returns true if the queue is closed
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued commands
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}
