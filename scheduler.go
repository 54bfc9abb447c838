package assetlease

import (
	"context"
	"math/big"
	"sync"
)

// Outcome is the terminal result of a scheduled external call.
type Outcome struct {
	// Err is non-nil when the call failed.
	Err error
	// Revert is set when a transfer-and-notify receiver asked for the
	// transfer to be reverted.
	Revert bool
	// Unused is the unconsumed amount reported by a payment
	// transfer-and-notify, nil for other calls.
	Unused *big.Int
}

// Task performs one external request and reports its terminal result.
type Task func(ctx context.Context) Outcome

// Continuation observes the outcome of the task it was scheduled with.
// Local state that reflects the outcome of a request must be mutated here,
// never in the code that issued the request.
type Continuation func(ctx context.Context, out Outcome)

// Scheduler queues external requests and delivers their outcomes to
// continuations. Requests run in the order they were scheduled.
type Scheduler interface {
	Schedule(task Task, then Continuation)
}

type scheduledCall struct {
	task Task
	then Continuation
}

// serialScheduler executes scheduled calls one at a time, in FIFO order, on
// a single background worker. Scheduling never blocks the invocation that
// issues the request.
type serialScheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []scheduledCall
	closed bool
}

func newSerialScheduler() *serialScheduler {
	var s = &serialScheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Schedule enqueues a call for the worker to execute.
func (s *serialScheduler) Schedule(task Task, then Continuation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, scheduledCall{task: task, then: then})
	s.cond.Signal()
}

// start launches the worker goroutine. It runs until stop is called.
func (s *serialScheduler) start(ctx context.Context) {
	go s.run(ctx)
}

func (s *serialScheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		var call = s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		var out = call.task(ctx)
		if call.then != nil {
			call.then(ctx, out)
		}
	}
}

// stop lets already-queued calls finish; anything scheduled afterwards is
// dropped.
func (s *serialScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
