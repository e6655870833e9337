// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Guard wraps a mutex-protected value with scoped lock helpers. Used for
// monitor statistics, where every touch is a short read or read-modify-write
// and leaking the lock would be easy to get wrong.
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *Guard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Update executes fn while holding the write lock; fn receives a pointer
// for mutation.
func (g *Guard[T]) Update(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}
