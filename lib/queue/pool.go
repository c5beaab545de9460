package queue

import (
	"fmt"
	"sync"
)

// DefaultWorkers is the default size of the worker pool
const DefaultWorkers = 4

// ExecuteFunc runs a single command. It is called outside of the queue lock.
type ExecuteFunc func(cmd *Command)

// Pool is a fixed number of workers draining one queue
type Pool struct {
	queue   *Queue
	exec    ExecuteFunc
	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPool creates a pool of workers for q. The workers are started by Start.
func NewPool(q *Queue, workers int, exec ExecuteFunc) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		queue:   q,
		exec:    exec,
		workers: workers,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	p.once.Do(func() {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.work(i)
		}
		Logger.Infof("started %d workers", p.workers)
	})
}

// Stop closes the queue, lets the workers finish every queued command and
// waits for them to exit.
func (p *Pool) Stop() {
	p.queue.Close()
	p.wg.Wait()
}

// Workers returns the configured number of workers
func (p *Pool) Workers() int {
	return p.workers
}

// work is the loop of a single worker
func (p *Pool) work(id int) {
	defer p.wg.Done()

	for {
		cmd, ok := p.queue.Dequeue()
		if !ok {
			Logger.Debugf("worker %d stopped", id)
			return
		}
		p.run(id, cmd)
	}
}

// run executes one command and keeps the worker alive if the command panics
func (p *Pool) run(id int, cmd *Command) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("worker %d: command %s (conn %d, request %d) panicked: %v",
				id, cmd.Kind, cmd.ConnID, cmd.RequestID, fmt.Sprint(r))
		}
	}()
	p.exec(cmd)
}
