// Package limiter bounds the number of requests that may be waiting on the
// upstream at the same time.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting gate with FIFO hand-off: a released permit goes to
// the longest waiting caller before any later arrival can take it.
//
// Acquire blocks until a permit is free or ctx is done. Every successful
// Acquire must be paired with exactly one Release.
type Semaphore struct {
	sem     *semaphore.Weighted
	permits int

	mu       sync.Mutex
	inflight int
	waiting  int
	onChange func(inflight, waiting int)
}

// NewSemaphore creates a gate with n permits. n below 1 is treated as 1.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{
		sem:     semaphore.NewWeighted(int64(n)),
		permits: n,
	}
}

// OnChange registers fn to observe permit holders and waiters after every
// transition.
func (s *Semaphore) OnChange(fn func(inflight, waiting int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Acquire takes one permit.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.update(0, 1)
	err := s.sem.Acquire(ctx, 1)
	if err != nil {
		s.update(0, -1)
		return err
	}
	s.update(1, -1)
	return nil
}

// Release returns one permit.
func (s *Semaphore) Release() {
	s.update(-1, 0)
	s.sem.Release(1)
}

// Permits returns the configured capacity.
func (s *Semaphore) Permits() int {
	return s.permits
}

// Stats returns the current number of permit holders and waiters.
func (s *Semaphore) Stats() (inflight, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.waiting
}

func (s *Semaphore) update(dInflight, dWaiting int) {
	s.mu.Lock()
	s.inflight += dInflight
	s.waiting += dWaiting
	inflight, waiting, fn := s.inflight, s.waiting, s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(inflight, waiting)
	}
}
