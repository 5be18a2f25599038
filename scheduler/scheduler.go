// Package scheduler provides the shared worker pool item processors submit
// download and poll tasks to, so the node can run hundreds of items through
// their state machines concurrently without spawning one goroutine per task.
package scheduler

import (
	"time"

	"github.com/JekaMas/workerpool"
)

// Pool is a bounded worker pool shared by every item processor on the node.
type Pool struct {
	wp *workerpool.WorkerPool
}

// Cancel stops a task scheduled with Schedule if it has not yet been
// submitted to the pool. Calling it after the task already ran, or more
// than once, is a no-op.
type Cancel func()

// New creates a Pool with the given number of workers. config.Config.SchedulerWorkers
// defaults to 256, enough headroom to run that many scheduled tasks concurrently.
func New(workers int) *Pool {
	return &Pool{wp: workerpool.New(workers)}
}

// Submit queues fn to run on the next available worker. Submit does not
// block waiting for a worker; it returns once fn has been queued.
func (p *Pool) Submit(fn func()) {
	p.wp.Submit(fn)
}

// Schedule arranges for fn to be submitted to the pool once after d
// elapses, backing the downloader's retry timer and the poller's periodic
// tick. The returned Cancel stops the timer before it fires; it has no
// effect on a task already submitted.
func (p *Pool) Schedule(d time.Duration, fn func()) Cancel {
	timer := time.AfterFunc(d, func() { p.Submit(fn) })
	return func() { timer.Stop() }
}

// Stop waits for the tasks currently running to finish, then shuts the pool
// down. Queued-but-not-started tasks are discarded.
func (p *Pool) Stop() {
	p.wp.Stop()
}

// StopWait waits for every submitted task, including ones still queued, to
// finish before shutting the pool down.
func (p *Pool) StopWait() {
	p.wp.StopWait()
}

// WaitingQueueSize reports how many submitted tasks are waiting for a free
// worker right now, used by diagnostics to detect scheduler saturation.
func (p *Pool) WaitingQueueSize() int {
	return p.wp.WaitingQueueSize()
}
