package service

import "sync"

// lockRegistry hands out one mutex per key so lifecycle transitions for
// the same subscription serialize while different subscriptions proceed
// in parallel. Mutexes are never evicted; the registry lives as long as
// the service and the per-key footprint is one mutex.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock function.
func (r *lockRegistry) lock(key string) func() {
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
