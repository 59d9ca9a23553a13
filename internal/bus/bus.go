// Package bus is a small typed publish/subscribe hub.
package bus

import (
	"log"
	"sync"
)

// Bus dispatches values to subscribers synchronously on the publishing
// goroutine, in subscription order. Handlers may publish or subscribe
// themselves; they see the subscriber list as it was when Publish started.
type Bus[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.handlers {
				if s.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every subscriber. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, s := range handlers {
		deliver(s.fn, v)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func deliver[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: subscriber panic: %v", r)
		}
	}()
	fn(v)
}
