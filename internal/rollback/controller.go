// Package rollback orchestrates disabling and restoring flags around
// breach verdicts. The execution order is deliberate: the disable hits the
// store before any bookkeeping, so a failure halfway through leaves the
// flag disabled (fail-safe) rather than enabled and unlogged (fail-open).
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/peoplecore/flagguard/internal/alerting"
	"github.com/peoplecore/flagguard/internal/cooldown"
	"github.com/peoplecore/flagguard/internal/flagstore"
	"github.com/peoplecore/flagguard/internal/health"
	"github.com/peoplecore/flagguard/internal/usage"
)

// reasonSampleCount is how many recent error samples are embedded in a
// RollbackEvent's reason.
const reasonSampleCount = 5

// ErrCooldownActive refuses a rollback of a flag that is already rolled
// back and cooling down.
var ErrCooldownActive = errors.New("cooldown active")

// RestoreResult is the structured outcome of a restore attempt. A restore
// refused because the cooldown is still running is a normal result, not an
// error.
type RestoreResult struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Enabled   bool          `json:"enabled"`
}

// Controller owns the rollback and restore sequences for all flags.
type Controller struct {
	store     flagstore.Store
	recorder  *usage.Recorder
	evaluator *health.Evaluator
	cooldowns *cooldown.Registry
	alerts    *alerting.Dispatcher
	events    *Log
	snapshots *SnapshotRegistry
	clock     cooldown.Clock
}

// NewController wires the rollback sequence. A nil clock falls back to the
// system clock.
func NewController(
	store flagstore.Store,
	recorder *usage.Recorder,
	evaluator *health.Evaluator,
	cooldowns *cooldown.Registry,
	alerts *alerting.Dispatcher,
	events *Log,
	snapshots *SnapshotRegistry,
	clock cooldown.Clock,
) *Controller {
	if clock == nil {
		clock = cooldown.SystemClock{}
	}
	return &Controller{
		store:     store,
		recorder:  recorder,
		evaluator: evaluator,
		cooldowns: cooldowns,
		alerts:    alerts,
		events:    events,
		snapshots: snapshots,
		clock:     clock,
	}
}

// Events exposes the append-only rollback history.
func (c *Controller) Events() *Log { return c.events }

// Snapshots exposes the pre-rollback state registry.
func (c *Controller) Snapshots() *SnapshotRegistry { return c.snapshots }

// TriggerAutomatic executes an automatic rollback for a breach verdict.
// It is a no-op (nil event, nil error) when the verdict is not a breach,
// auto-rollback is disabled for the flag, or the flag is already cooling
// down. Callers must hold the flag's serialization lock.
func (c *Controller) TriggerAutomatic(ctx context.Context, flag string, verdict health.Verdict) (*Event, error) {
	if !verdict.Breach {
		return nil, nil
	}
	cfg := c.evaluator.Config(flag)
	if !cfg.AutoRollbackEnabled {
		log.Printf("[rollback] breach on %s ignored: auto-rollback disabled (rate=%.2f%%)",
			flag, verdict.ErrorRate*100)
		return nil, nil
	}
	if c.cooldowns.IsActive(flag) {
		return nil, nil
	}

	w := c.recorder.Window(flag)
	reason := Reason{
		ErrorRate:    verdict.ErrorRate,
		Threshold:    cfg.ErrorRateThreshold,
		Requests:     w.Requests,
		Errors:       w.Errors,
		RecentErrors: w.LastErrors(reasonSampleCount),
		Note:         verdict.Reason,
	}
	return c.execute(ctx, flag, TriggerAutomatic, reason, cfg.CooldownDuration)
}

// Manual executes an operator-initiated rollback. It ignores
// AutoRollbackEnabled and does not require a prior breach, but still
// respects an active cooldown (the flag is already disabled).
func (c *Controller) Manual(ctx context.Context, flag string, note string) (*Event, error) {
	if c.cooldowns.IsActive(flag) {
		return nil, fmt.Errorf("flag %s is already rolled back: %w", flag, ErrCooldownActive)
	}

	cfg := c.evaluator.Config(flag)
	w := c.recorder.Window(flag)
	reason := Reason{
		ErrorRate:    w.ErrorRate(),
		Threshold:    cfg.ErrorRateThreshold,
		Requests:     w.Requests,
		Errors:       w.Errors,
		RecentErrors: w.LastErrors(reasonSampleCount),
		Note:         note,
	}
	return c.execute(ctx, flag, TriggerManual, reason, cfg.CooldownDuration)
}

// execute runs the shared rollback sequence:
// snapshot -> disable -> event -> cooldown -> window reset -> alert.
// Only the disable step can abort the rollback; everything after it is
// best-effort, logged, and leaves the flag disabled on failure.
func (c *Controller) execute(ctx context.Context, flag string, trigger Trigger, reason Reason, cooldownFor time.Duration) (*Event, error) {
	now := c.clock.Now().UTC()

	// (1) snapshot prior state. An unknown flag snapshots as enabled so a
	// later restore errs toward re-enabling.
	wasEnabled, err := c.store.IsEnabled(ctx, flag)
	if err != nil {
		log.Printf("[rollback] could not read prior state of %s: %v", flag, err)
		wasEnabled = true
	}
	snapshotID := c.snapshots.Take(flag, wasEnabled, now)

	// (2) disable in the store. This is the only abort point.
	if err := c.store.SetFlag(ctx, flag, false); err != nil {
		return nil, fmt.Errorf("disable flag %s: %w", flag, err)
	}

	// (3) append the audit event.
	event := Event{
		ID:            uuid.New().String(),
		Flag:          flag,
		Timestamp:     now,
		Trigger:       trigger,
		Reason:        reason,
		SnapshotID:    snapshotID,
		CooldownUntil: now.Add(cooldownFor),
	}
	c.events.Append(event)

	// (4) register the cooldown window.
	c.cooldowns.Set(flag, cooldownFor)

	// (5) reset the usage window so the bad period does not follow the
	// flag into its next life. Applies to manual rollbacks too.
	c.recorder.Reset(flag)

	// (6) notify.
	c.alerts.Notify(ctx, alerting.Key(alerting.TypeFlagRollback, flag), alerting.Payload{
		Type:      alerting.TypeFlagRollback,
		Flag:      flag,
		Trigger:   string(trigger),
		ErrorRate: reason.ErrorRate,
		Threshold: reason.Threshold,
		Message: fmt.Sprintf("flag %s rolled back (%s): %s cooldown until %s",
			flag, trigger, reason.Note, event.CooldownUntil.Format(time.RFC3339)),
		OccurredAt: now,
	})

	log.Printf("[rollback] %s rolled back: trigger=%s rate=%.2f%% cooldown_until=%s",
		flag, trigger, reason.ErrorRate*100, event.CooldownUntil.Format(time.RFC3339))
	return &event, nil
}

// Restore re-enables a rolled-back flag. With force=false an active
// cooldown refuses the restore and reports the remaining duration; with
// force=true the cooldown is cleared. Restore is idempotent: restoring an
// already-enabled flag succeeds without side effects.
func (c *Controller) Restore(ctx context.Context, flag string, force bool) RestoreResult {
	if remaining, active := c.cooldowns.Remaining(flag); active && !force {
		return RestoreResult{
			Success:   false,
			Message:   fmt.Sprintf("flag %s is still cooling down for %s; use force to override", flag, remaining.Round(time.Second)),
			Remaining: remaining,
		}
	}

	enabled, err := c.store.IsEnabled(ctx, flag)
	if err != nil {
		return RestoreResult{Success: false, Message: fmt.Sprintf("read flag %s: %v", flag, err)}
	}
	if enabled {
		// Already restored; clearing a stale cooldown is the only effect.
		c.cooldowns.Clear(flag)
		return RestoreResult{Success: true, Message: fmt.Sprintf("flag %s is already enabled", flag), Enabled: true}
	}

	// Restore puts back what the rollback took away. Without a snapshot
	// (flag rolled back in a previous process life) re-enabling is the only
	// sensible target.
	target := true
	if snap, ok := c.snapshots.Latest(flag); ok {
		target = snap.Enabled
	}
	if err := c.store.SetFlag(ctx, flag, target); err != nil {
		return RestoreResult{Success: false, Message: fmt.Sprintf("re-enable flag %s: %v", flag, err)}
	}

	c.cooldowns.Clear(flag)
	c.recorder.Reset(flag)

	c.alerts.Notify(ctx, alerting.Key(alerting.TypeFlagRestored, flag), alerting.Payload{
		Type:       alerting.TypeFlagRestored,
		Flag:       flag,
		Message:    fmt.Sprintf("flag %s restored", flag),
		OccurredAt: c.clock.Now().UTC(),
	})

	log.Printf("[rollback] %s restored (force=%t enabled=%t)", flag, force, target)
	return RestoreResult{Success: true, Message: fmt.Sprintf("flag %s restored", flag), Enabled: target}
}
