// Package lockmap provides a keyed mutex map with reference counting.
//
// The ticket state manager serializes every mutation of a ticket through
// one of these locks. Entries are created on first acquire and removed
// when the last holder releases, so the map stays proportional to the
// number of tickets under contention, not the number of tickets.
package lockmap

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex is a map of mutexes indexed by string key.
// The zero value is not usable; call New.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key. Unlocking a key that is not held
// panics, same as sync.Mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("lockmap: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// LockMany acquires every key in sorted order, which keeps concurrent bulk
// operations (soft delete, trash reap) from deadlocking each other.
// Duplicate keys are collapsed. It returns the keys in acquisition order;
// pass that slice to UnlockMany.
func (k *KeyedMutex) LockMany(keys []string) []string {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, key)
	}
	sort.Strings(uniq)

	for _, key := range uniq {
		k.Lock(key)
	}
	return uniq
}

// UnlockMany releases keys acquired by LockMany, in reverse order.
func (k *KeyedMutex) UnlockMany(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		k.Unlock(keys[i])
	}
}

// WithLock runs fn while holding the key's mutex.
func (k *KeyedMutex) WithLock(key string, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)
	fn()
}

// Len reports the number of live entries (held or contended). Used by
// tests to prove cleanup.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
