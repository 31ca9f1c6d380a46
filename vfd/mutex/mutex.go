package mutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex one mutex per key; entries are dropped when nobody holds or waits for them.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	table map[K]*entry
}

func (m *KeyedMutex[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table == nil {
		m.table = make(map[K]*entry)
	}
	e, ok := m.table[key]
	if !ok {
		e = &entry{}
		m.table[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex[K]) release(key K, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.table, key)
	}
}

func (m *KeyedMutex[K]) Lock(key K) {
	m.acquire(key).mu.Lock()
}

// TryLock reports whether the lock for key was acquired without waiting.
func (m *KeyedMutex[K]) TryLock(key K) bool {
	e := m.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	m.release(key, e)
	return false
}

func (m *KeyedMutex[K]) Unlock(key K) {
	m.mu.Lock()
	e, ok := m.table[key]
	m.mu.Unlock()
	if !ok {
		panic("mutex: unlock of unlocked key")
	}
	e.mu.Unlock()
	m.release(key, e)
}

// Len number of keys currently held or awaited.
func (m *KeyedMutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}
