package execution

import (
	"sync"
	"time"
)

// Executor runs a task after a simulated delay. Submit returns false when
// the executor refuses the task; reject is invoked for tasks that were
// accepted but later discarded.
type Executor interface {
	Submit(delay time.Duration, run func(), reject func()) bool
}

type delayTask struct {
	delay  time.Duration
	run    func()
	reject func()
}

// DelayQueue serializes task execution on a single worker, sleeping the
// per-task delay before each run. Stop rejects everything queued and
// refuses new submissions until Resume.
type DelayQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []delayTask
	stopped bool
	closed  bool

	// sleep is swappable so tests do not wait out real delays.
	sleep func(time.Duration)
}

// NewDelayQueue creates a queue and starts its worker.
func NewDelayQueue() *DelayQueue {
	q := &DelayQueue{sleep: time.Sleep}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Submit queues a task. Returns false when the queue is stopped or closed.
func (q *DelayQueue) Submit(delay time.Duration, run func(), reject func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.closed {
		return false
	}
	q.queue = append(q.queue, delayTask{delay: delay, run: run, reject: reject})
	q.cond.Signal()
	return true
}

// Stop rejects all queued tasks and refuses new submissions.
func (q *DelayQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	dropped := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, t := range dropped {
		if t.reject != nil {
			t.reject()
		}
	}
}

// Resume re-enables submissions after Stop.
func (q *DelayQueue) Resume() {
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()
}

// Close terminates the worker. Queued tasks are rejected.
func (q *DelayQueue) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := q.queue
	q.queue = nil
	q.cond.Signal()
	q.mu.Unlock()

	for _, t := range dropped {
		if t.reject != nil {
			t.reject()
		}
	}
}

// Pending returns the number of queued tasks.
func (q *DelayQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *DelayQueue) worker() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		t := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		if t.delay > 0 {
			q.sleep(t.delay)
		}
		t.run()
	}
}
