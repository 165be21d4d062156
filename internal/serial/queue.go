// Package serial runs callbacks one at a time, in submission order.
package serial

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of callbacks drained by a single goroutine. The
// goroutine only lives while there is work, so an idle Queue holds no
// resources and needs no Close.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// Push schedules fn to run after everything pushed before it.
func (q *Queue) Push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

// Do schedules fn and waits until it ran. If ctx ends first Do returns the
// context error, fn still runs later in its turn.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	q.Push(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits for everything pushed so far to finish.
func (q *Queue) Flush(ctx context.Context) error {
	return q.Do(ctx, func() {})
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}
