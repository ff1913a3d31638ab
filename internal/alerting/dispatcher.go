// Package alerting fans health events out to notification sinks with
// independent duplicate suppression. Dispatch is best-effort: a failing
// sink never blocks the other sinks and never surfaces to the caller.
package alerting

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/peoplecore/flagguard/internal/cooldown"
)

// Alert type constants used as the first half of suppression keys.
const (
	TypeFlagRollback = "flag_rollback"
	TypeFlagRestored = "flag_restored"
)

// Payload carries the health event handed to every sink.
type Payload struct {
	Type       string         `json:"type"`
	Flag       string         `json:"flag"`
	Message    string         `json:"message"`
	Trigger    string         `json:"trigger,omitempty"`
	ErrorRate  float64        `json:"errorRate,omitempty"`
	Threshold  float64        `json:"threshold,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Details    map[string]any `json:"details,omitempty"`
}

// Key builds the suppression key for an alert type and flag. Keys are
// scoped per type+flag so one flag's suppression never masks another's.
func Key(alertType, flag string) string {
	return alertType + ":" + flag
}

// Sink delivers one alert. Implementations must be safe for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, key string, p Payload) error
}

// HandlerFunc adapts a plain function to the Sink interface, letting
// callers plug custom notification handlers without touching the core.
type HandlerFunc func(ctx context.Context, key string, p Payload) error

func (f HandlerFunc) Deliver(ctx context.Context, key string, p Payload) error {
	return f(ctx, key, p)
}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher delivers alerts to registered sinks, suppressing duplicates
// per alert key within the suppression window.
type Dispatcher struct {
	mu          sync.RWMutex
	sinks       []namedSink
	suppression *cooldown.Registry
	window      time.Duration

	// delivered/suppressed counters are reported to telemetry by the
	// caller; kept as optional hooks so the package stays import-light.
	onDelivered  func()
	onSuppressed func()
}

// NewDispatcher creates a dispatcher with the given suppression registry
// and window. The registry must be distinct from the rollback cooldown
// registry: the two are separate keyspaces.
func NewDispatcher(suppression *cooldown.Registry, window time.Duration) *Dispatcher {
	return &Dispatcher{
		suppression: suppression,
		window:      window,
	}
}

// SetHooks installs optional counters invoked on dispatch and suppression.
func (d *Dispatcher) SetHooks(onDelivered, onSuppressed func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDelivered = onDelivered
	d.onSuppressed = onSuppressed
}

// Register adds a named sink. Registration order is delivery order.
func (d *Dispatcher) Register(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// RegisterFunc registers a plain handler function as a sink.
func (d *Dispatcher) RegisterFunc(name string, fn HandlerFunc) {
	d.Register(name, fn)
}

// Notify delivers p to every sink unless the key is still suppressed.
// The suppression entry is reserved before delivery, so two concurrent
// Notify calls for the same key dispatch exactly once. Notify never
// returns an error: per-sink failures are logged and isolated.
func (d *Dispatcher) Notify(ctx context.Context, key string, p Payload) {
	if !d.suppression.SetIfAbsent(key, d.window) {
		d.mu.RLock()
		hook := d.onSuppressed
		d.mu.RUnlock()
		if hook != nil {
			hook()
		}
		log.Printf("[alert] suppressed duplicate: key=%s", key)
		return
	}

	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	sinks := make([]namedSink, len(d.sinks))
	copy(sinks, d.sinks)
	hook := d.onDelivered
	d.mu.RUnlock()

	for _, ns := range sinks {
		if err := ns.sink.Deliver(ctx, key, p); err != nil {
			log.Printf("[alert] sink %s failed: key=%s error=%v", ns.name, key, err)
		}
	}
	if hook != nil {
		hook()
	}
}

// LogSink writes alerts to the process log. Registered by default so
// rollbacks are always visible even with no external sinks configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, _ string, p Payload) error {
	log.Printf("[alert] %s flag=%s trigger=%s rate=%.2f%% threshold=%.2f%%: %s",
		p.Type, p.Flag, p.Trigger, p.ErrorRate*100, p.Threshold*100, p.Message)
	return nil
}
