// Package usage records per-request outcomes into rolling per-flag windows.
// The recorder sits on the hot path of every flagged request: it must never
// block and never panic outward, so all state is plain counters behind one
// mutex and every write is O(1).
package usage

import (
	"log"
	"sync"
	"time"
)

// maxRecentErrors bounds the ring buffer of error samples kept per window.
const maxRecentErrors = 10

// ErrorSample is one recorded failure, kept for rollback audit trails.
type ErrorSample struct {
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// Window holds the rolling short-term counters and lifetime totals for one
// flag. Short-term counters reset on window rollover and after a rollback;
// lifetime totals are never reset.
type Window struct {
	Requests      int64         `json:"requests"`
	Errors        int64         `json:"errors"`
	Successes     int64         `json:"successes"`
	WindowStart   time.Time     `json:"windowStart"`
	RecentErrors  []ErrorSample `json:"recentErrors,omitempty"`
	LastErrorAt   time.Time     `json:"lastErrorAt,omitzero"`
	LastSuccessAt time.Time     `json:"lastSuccessAt,omitzero"`
	TotalRequests int64         `json:"totalRequests"`
	TotalErrors   int64         `json:"totalErrors"`
}

// ErrorRate returns errors/requests for the current window, 0 when empty.
func (w Window) ErrorRate() float64 {
	if w.Requests == 0 {
		return 0
	}
	return float64(w.Errors) / float64(w.Requests)
}

// LastErrors returns up to n of the most recent error samples, newest last.
func (w Window) LastErrors(n int) []ErrorSample {
	if n > len(w.RecentErrors) {
		n = len(w.RecentErrors)
	}
	out := make([]ErrorSample, n)
	copy(out, w.RecentErrors[len(w.RecentErrors)-n:])
	return out
}

// clone deep-copies the window so callers never alias the live ring buffer.
func (w *Window) clone() Window {
	out := *w
	out.RecentErrors = make([]ErrorSample, len(w.RecentErrors))
	copy(out.RecentErrors, w.RecentErrors)
	return out
}

// Recorder owns the per-flag window map. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	windows map[string]*Window
	// pending counts outcomes recorded since the last flush per flag,
	// driving the batched persistence trigger.
	pending map[string]int
	clock   func() time.Time
}

// NewRecorder creates an empty recorder. A nil now func falls back to
// time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		windows: make(map[string]*Window),
		pending: make(map[string]int),
		clock:   now,
	}
}

// Record registers one request outcome for flag. Failures carry an optional
// human-readable detail. Record never panics: internal failures are
// swallowed and logged so the measured request is never affected.
func (r *Recorder) Record(flag string, succeeded bool, detail string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[usage] recordOutcome panic for flag %s: %v", flag, rec)
		}
	}()

	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[flag]
	if w == nil {
		w = &Window{WindowStart: now}
		r.windows[flag] = w
	}

	w.Requests++
	w.TotalRequests++
	if succeeded {
		w.Successes++
		w.LastSuccessAt = now
	} else {
		w.Errors++
		w.TotalErrors++
		w.LastErrorAt = now
		w.RecentErrors = append(w.RecentErrors, ErrorSample{At: now, Detail: detail})
		if len(w.RecentErrors) > maxRecentErrors {
			w.RecentErrors = w.RecentErrors[len(w.RecentErrors)-maxRecentErrors:]
		}
	}
	r.pending[flag]++
}

// Window returns a copy of the flag's window. The zero Window is returned
// for flags that were never recorded.
func (r *Recorder) Window(flag string) Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[flag]; ok {
		return w.clone()
	}
	return Window{}
}

// ErrorRate returns the flag's current rolling error rate.
func (r *Recorder) ErrorRate(flag string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[flag]; ok {
		return w.ErrorRate()
	}
	return 0
}

// Reset zeroes the flag's short-term counters and ring buffer, keeping the
// lifetime totals. Called after a rollback or restore.
func (r *Recorder) Reset(flag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(flag, r.clock())
}

func (r *Recorder) resetLocked(flag string, now time.Time) {
	w, ok := r.windows[flag]
	if !ok {
		return
	}
	w.Requests = 0
	w.Errors = 0
	w.Successes = 0
	w.RecentErrors = nil
	w.WindowStart = now
}

// RollExpired resets the short-term counters of every window older than
// maxAge and returns the affected flag names. Called from the shared
// periodic sweep so a stale bad period cannot permanently poison the rate.
func (r *Recorder) RollExpired(maxAge time.Duration) []string {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	var rolled []string
	for flag, w := range r.windows {
		if now.Sub(w.WindowStart) > maxAge {
			r.resetLocked(flag, now)
			rolled = append(rolled, flag)
		}
	}
	return rolled
}

// Snapshot returns a deep copy of every window and clears the pending
// outcome counters in the same critical section. Outcomes recorded during
// a flush land in the live map and count toward the next flush, so a flush
// can never lose them. The cleared counters are returned so a caller whose
// persist step fails can hand them back via RefillPending.
func (r *Recorder) Snapshot() (map[string]Window, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Window, len(r.windows))
	for flag, w := range r.windows {
		out[flag] = w.clone()
	}
	pending := r.pending
	r.pending = make(map[string]int)
	return out, pending
}

// RefillPending adds counts back into the pending counters. Called when a
// flush fails after Snapshot already cleared them, so the batch trigger
// still fires for the retried outcomes.
func (r *Recorder) RefillPending(counts map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for flag, n := range counts {
		r.pending[flag] += n
	}
}

// WindowAge returns how long the flag's current window has been open.
// Returns 0 for flags with no recorded usage.
func (r *Recorder) WindowAge(flag string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[flag]; ok {
		return r.clock().Sub(w.WindowStart)
	}
	return 0
}

// PendingMax returns the largest per-flag outcome count recorded since the
// last Snapshot.
func (r *Recorder) PendingMax() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, n := range r.pending {
		if n > max {
			max = n
		}
	}
	return max
}

// Restore replaces the window map with previously persisted state.
// Used once at startup, before any traffic is recorded.
func (r *Recorder) Restore(windows map[string]Window) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = make(map[string]*Window, len(windows))
	for flag, w := range windows {
		cp := w.clone()
		r.windows[flag] = &cp
	}
}

// Flags returns the names of all flags with recorded usage.
func (r *Recorder) Flags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.windows))
	for flag := range r.windows {
		out = append(out, flag)
	}
	return out
}
