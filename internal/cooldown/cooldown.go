// Package cooldown tracks per-key expiry windows. It backs both the
// rollback cooldowns (a rolled-back flag is not re-evaluated until the
// window elapses) and alert suppression (duplicate notifications for the
// same condition are dropped). The two concerns use two independent
// Registry instances so suppressing an alert can never mask an unrelated
// rollback window on the same flag.
package cooldown

import (
	"sync"
	"time"
)

// Clock interface for testable time operations
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Registry is a thread-safe map of key -> expiry time.
// Entries expire lazily on read; Purge removes expired entries eagerly
// for memory hygiene and is meant to be called from a periodic sweep.
type Registry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   Clock
}

// New creates an empty registry. A nil clock falls back to SystemClock.
func New(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		entries: make(map[string]time.Time),
		clock:   clock,
	}
}

// IsActive reports whether the key has a non-expired entry.
// Expired entries are removed as a side effect.
func (r *Registry) IsActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(key)
}

func (r *Registry) activeLocked(key string) bool {
	expiresAt, ok := r.entries[key]
	if !ok {
		return false
	}
	if !r.clock.Now().Before(expiresAt) {
		delete(r.entries, key)
		return false
	}
	return true
}

// Remaining returns the time left on an active entry.
// The second return value is false when no active entry exists.
func (r *Registry) Remaining(key string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked(key) {
		return 0, false
	}
	return r.entries[key].Sub(r.clock.Now()), true
}

// Set records an entry expiring after d, replacing any existing entry.
func (r *Registry) Set(key string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = r.clock.Now().Add(d)
}

// SetIfAbsent records an entry only when no active entry exists for key.
// Returns true when the entry was written. This is the compare-and-swap
// used to guarantee that two concurrent breach verdicts for the same flag
// cannot both win the rollback.
func (r *Registry) SetIfAbsent(key string, d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeLocked(key) {
		return false
	}
	r.entries[key] = r.clock.Now().Add(d)
	return true
}

// Clear removes the entry for key, active or not. Idempotent.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Purge removes all expired entries and returns how many were dropped.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	dropped := 0
	for key, expiresAt := range r.entries {
		if !now.Before(expiresAt) {
			delete(r.entries, key)
			dropped++
		}
	}
	return dropped
}

// Active returns a copy of all non-expired entries (key -> expiry).
func (r *Registry) Active() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	out := make(map[string]time.Time, len(r.entries))
	for key, expiresAt := range r.entries {
		if now.Before(expiresAt) {
			out[key] = expiresAt
		}
	}
	return out
}
