package rollback

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peoplecore/flagguard/internal/usage"
)

// Trigger identifies what initiated a rollback.
type Trigger string

const (
	TriggerAutomatic Trigger = "automatic"
	TriggerManual    Trigger = "manual"
)

// Reason snapshots why a rollback fired, preserved for audit.
type Reason struct {
	ErrorRate    float64             `json:"errorRate"`
	Threshold    float64             `json:"threshold"`
	Requests     int64               `json:"requests"`
	Errors       int64               `json:"errors"`
	RecentErrors []usage.ErrorSample `json:"recentErrors,omitempty"`
	Note         string              `json:"note,omitempty"`
}

// Event is one rollback occurrence. Events are immutable once created and
// retained for audit; restoring a flag never erases them.
type Event struct {
	ID            string    `json:"id"`
	Flag          string    `json:"flag"`
	Timestamp     time.Time `json:"timestamp"`
	Trigger       Trigger   `json:"trigger"`
	Reason        Reason    `json:"reason"`
	SnapshotID    string    `json:"snapshotId"`
	CooldownUntil time.Time `json:"cooldownUntil"`
}

// Snapshot captures a flag's state just before it was disabled, so restore
// can put back exactly what rollback took away.
type Snapshot struct {
	ID      string    `json:"id"`
	Flag    string    `json:"flag"`
	Enabled bool      `json:"enabled"`
	TakenAt time.Time `json:"takenAt"`
}

// Log is the append-only in-memory rollback history.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{}
}

// Append adds an event to the history.
func (l *Log) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// All returns a copy of every event, oldest first.
func (l *Log) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Recent returns up to n of the newest events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.events) {
		n = len(l.events)
	}
	out := make([]Event, 0, n)
	for i := len(l.events) - 1; i >= len(l.events)-n; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// CountForFlag returns how many rollbacks were recorded for flag.
func (l *Log) CountForFlag(flag string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.events {
		if e.Flag == flag {
			n++
		}
	}
	return n
}

// Replace swaps the full history, used when reloading persisted state at
// startup (before any new events are appended).
func (l *Log) Replace(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make([]Event, len(events))
	copy(l.events, events)
}

// SnapshotRegistry keeps pre-rollback state snapshots keyed by ID.
type SnapshotRegistry struct {
	mu   sync.RWMutex
	byID map[string]Snapshot
}

// NewSnapshotRegistry creates an empty registry.
func NewSnapshotRegistry() *SnapshotRegistry {
	return &SnapshotRegistry{byID: make(map[string]Snapshot)}
}

// Take records the current state of flag and returns the snapshot ID.
func (s *SnapshotRegistry) Take(flag string, enabled bool, at time.Time) string {
	snap := Snapshot{
		ID:      uuid.New().String(),
		Flag:    flag,
		Enabled: enabled,
		TakenAt: at,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[snap.ID] = snap
	return snap.ID
}

// Get returns the snapshot for id.
func (s *SnapshotRegistry) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	return snap, ok
}

// Latest returns the most recent snapshot taken for flag.
func (s *SnapshotRegistry) Latest(flag string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest Snapshot
	found := false
	for _, snap := range s.byID {
		if snap.Flag != flag {
			continue
		}
		if !found || snap.TakenAt.After(latest.TakenAt) {
			latest = snap
			found = true
		}
	}
	return latest, found
}
