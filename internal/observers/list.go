// Package observers keeps ordered callback lists whose registrations can be
// withdrawn individually.
package observers

import "sync"

type entry[T any] struct {
	id uint64
	fn T
}

type List[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

// Add registers fn and returns a function that unregisters it. Calling the
// returned function more than once is harmless.
func (l *List[T]) Add(fn T) (unregister func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the registered callbacks in registration order.
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	fns := make([]T, len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
