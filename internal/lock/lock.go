// Package lock provides in-process keyed mutual exclusion.
package lock

import "sync"

// MutexMap hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits on them, so the map stays bounded
// by the number of keys in use.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewMutexMap creates an empty MutexMap.
func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*entry),
	}
}

// Lock blocks until the mutex for key is held.
func (m *MutexMap) Lock(key string) {
	m.acquire(key).mu.Lock()
}

// Unlock releases the mutex for key. It panics if key is not locked.
func (m *MutexMap) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.mutexes[key]
	if !ok {
		m.mu.Unlock()
		panic("lock: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(m.mutexes, key)
	}
	m.mu.Unlock()
	e.mu.Unlock()
}

// With runs fn while holding the lock for key.
func (m *MutexMap) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Len returns the number of keys currently held or awaited.
func (m *MutexMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

func (m *MutexMap) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.mutexes[key]
	if !ok {
		e = &entry{}
		m.mutexes[key] = e
	}
	e.refs++
	return e
}
