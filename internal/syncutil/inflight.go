// Package syncutil provides concurrency primitives shared across the service.
package syncutil

import "sync"

// Inflight tracks keys with work currently in progress. It is used to
// guarantee at-most-one in-flight operation per key: a second caller for
// the same key is refused rather than queued.
type Inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInflight creates an empty in-flight registry.
func NewInflight() *Inflight {
	return &Inflight{keys: make(map[string]struct{})}
}

// TryBegin marks key as in flight. It returns false if the key is already
// claimed, in which case the caller must not proceed and must not call Done.
func (f *Inflight) TryBegin(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

// Done releases key. Safe to call for keys that were never claimed.
func (f *Inflight) Done(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

// Len returns the number of keys currently in flight.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
