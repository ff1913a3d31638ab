package rollback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peoplecore/flagguard/internal/alerting"
	"github.com/peoplecore/flagguard/internal/cooldown"
	"github.com/peoplecore/flagguard/internal/flagstore"
	"github.com/peoplecore/flagguard/internal/health"
	"github.com/peoplecore/flagguard/internal/usage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type capturedAlerts struct {
	mu       sync.Mutex
	payloads []alerting.Payload
}

func (c *capturedAlerts) sink(_ context.Context, _ string, p alerting.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

type fixture struct {
	clock     *fakeClock
	store     *flagstore.MemoryStore
	recorder  *usage.Recorder
	evaluator *health.Evaluator
	cooldowns *cooldown.Registry
	alerts    *capturedAlerts
	ctl       *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	store := flagstore.NewMemoryStore()
	store.Seed("preview_upload", true)

	recorder := usage.NewRecorder(clock.Now)
	cooldowns := cooldown.New(clock)
	evaluator := health.NewEvaluator(recorder, cooldowns, health.ThresholdConfig{
		ErrorRateThreshold:  0.05,
		MinimumSampleSize:   50,
		CooldownDuration:    time.Minute,
		AutoRollbackEnabled: true,
		WindowDuration:      5 * time.Minute,
	})

	alerts := &capturedAlerts{}
	dispatcher := alerting.NewDispatcher(cooldown.New(clock), 30*time.Second)
	dispatcher.RegisterFunc("capture", alerts.sink)

	ctl := NewController(store, recorder, evaluator, cooldowns, dispatcher,
		NewLog(), NewSnapshotRegistry(), clock)

	return &fixture{
		clock: clock, store: store, recorder: recorder,
		evaluator: evaluator, cooldowns: cooldowns, alerts: alerts, ctl: ctl,
	}
}

func (f *fixture) breach(t *testing.T, flag string) health.Verdict {
	t.Helper()
	// 50 outcomes with 3 failures: 6% > 5% threshold.
	for i := 0; i < 50; i++ {
		f.recorder.Record(flag, i >= 3, "upload failed")
	}
	v := f.evaluator.Evaluate(flag)
	if !v.Breach {
		t.Fatalf("fixture expected a breach, got %+v", v)
	}
	return v
}

func TestTriggerAutomatic_FullSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.breach(t, "preview_upload")

	event, err := f.ctl.TriggerAutomatic(ctx, "preview_upload", v)
	if err != nil {
		t.Fatalf("TriggerAutomatic failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected a rollback event")
	}

	// Flag disabled in the store.
	enabled, _ := f.store.IsEnabled(ctx, "preview_upload")
	if enabled {
		t.Error("flag still enabled after automatic rollback")
	}

	// Exactly one event, trigger=automatic, with reason and samples.
	events := f.ctl.Events().All()
	if len(events) != 1 {
		t.Fatalf("event log has %d events, want 1", len(events))
	}
	got := events[0]
	if got.Trigger != TriggerAutomatic {
		t.Errorf("trigger = %q, want automatic", got.Trigger)
	}
	if got.Reason.ErrorRate != 0.06 {
		t.Errorf("reason errorRate = %v, want 0.06", got.Reason.ErrorRate)
	}
	if len(got.Reason.RecentErrors) != 3 {
		t.Errorf("reason has %d error samples, want 3", len(got.Reason.RecentErrors))
	}

	// Snapshot restorable and references prior state.
	snap, ok := f.ctl.Snapshots().Get(got.SnapshotID)
	if !ok {
		t.Fatal("event references a missing snapshot")
	}
	if !snap.Enabled {
		t.Error("snapshot should capture the flag as previously enabled")
	}

	// Cooldown registered, window reset, alert sent.
	if !f.cooldowns.IsActive("preview_upload") {
		t.Error("cooldown not registered")
	}
	if w := f.recorder.Window("preview_upload"); w.Requests != 0 {
		t.Errorf("usage window not reset: %+v", w)
	}
	f.alerts.mu.Lock()
	alertCount := len(f.alerts.payloads)
	f.alerts.mu.Unlock()
	if alertCount != 1 {
		t.Errorf("dispatched %d alerts, want 1", alertCount)
	}
}

func TestTriggerAutomatic_NoSecondRollbackInsideCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.breach(t, "preview_upload")
	if _, err := f.ctl.TriggerAutomatic(ctx, "preview_upload", v); err != nil {
		t.Fatalf("first rollback failed: %v", err)
	}

	// Second failure burst within the same cooldown window.
	for i := 0; i < 60; i++ {
		f.recorder.Record("preview_upload", false, "still broken")
	}
	event, err := f.ctl.TriggerAutomatic(ctx, "preview_upload", health.Verdict{
		Flag: "preview_upload", Breach: true, ErrorRate: 1.0,
	})
	if err != nil {
		t.Fatalf("second trigger errored: %v", err)
	}
	if event != nil {
		t.Error("second burst inside the cooldown produced a second event")
	}
	if got := len(f.ctl.Events().All()); got != 1 {
		t.Errorf("event log has %d events, want 1", got)
	}
}

func TestTriggerAutomatic_RespectsAutoRollbackDisabled(t *testing.T) {
	f := newFixture(t)
	cfg := f.evaluator.Config("preview_upload")
	cfg.AutoRollbackEnabled = false
	f.evaluator.SetConfig("preview_upload", cfg)

	v := f.breach(t, "preview_upload")
	event, err := f.ctl.TriggerAutomatic(context.Background(), "preview_upload", v)
	if err != nil || event != nil {
		t.Errorf("rollback fired with autoRollback disabled: event=%v err=%v", event, err)
	}
	if enabled, _ := f.store.IsEnabled(context.Background(), "preview_upload"); !enabled {
		t.Error("flag was disabled despite autoRollback=false")
	}
}

func TestTriggerAutomatic_IgnoresNonBreach(t *testing.T) {
	f := newFixture(t)
	event, err := f.ctl.TriggerAutomatic(context.Background(), "preview_upload",
		health.Verdict{Flag: "preview_upload", Healthy: true})
	if event != nil || err != nil {
		t.Errorf("non-breach verdict triggered a rollback: event=%v err=%v", event, err)
	}
}

func TestManual_NoBreachRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No recorded traffic at all; manual rollback must still work.
	event, err := f.ctl.Manual(ctx, "preview_upload", "suspected payroll miscalculation")
	if err != nil {
		t.Fatalf("Manual failed: %v", err)
	}
	if event.Trigger != TriggerManual {
		t.Errorf("trigger = %q, want manual", event.Trigger)
	}
	if event.Reason.Note != "suspected payroll miscalculation" {
		t.Errorf("reason note = %q", event.Reason.Note)
	}
	if enabled, _ := f.store.IsEnabled(ctx, "preview_upload"); enabled {
		t.Error("flag still enabled after manual rollback")
	}
}

func TestManual_IgnoresAutoRollbackDisabled(t *testing.T) {
	f := newFixture(t)
	cfg := f.evaluator.Config("preview_upload")
	cfg.AutoRollbackEnabled = false
	f.evaluator.SetConfig("preview_upload", cfg)

	if _, err := f.ctl.Manual(context.Background(), "preview_upload", "operator call"); err != nil {
		t.Errorf("manual rollback must ignore autoRollbackEnabled: %v", err)
	}
}

func TestManual_RejectedDuringCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctl.Manual(ctx, "preview_upload", "first"); err != nil {
		t.Fatalf("first manual rollback failed: %v", err)
	}
	_, err := f.ctl.Manual(ctx, "preview_upload", "second")
	if err == nil {
		t.Fatal("manual rollback during an active cooldown should be refused")
	}
	if !errors.Is(err, ErrCooldownActive) {
		t.Errorf("refusal should wrap ErrCooldownActive, got %v", err)
	}
}

func TestRestore_RefusedDuringCooldownWithoutForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctl.Manual(ctx, "preview_upload", "reason"); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	res := f.ctl.Restore(ctx, "preview_upload", false)
	if res.Success {
		t.Fatal("restore during cooldown without force must fail")
	}
	if res.Remaining <= 0 {
		t.Error("structured failure should carry the remaining cooldown")
	}
	if enabled, _ := f.store.IsEnabled(ctx, "preview_upload"); enabled {
		t.Error("refused restore must not partially re-enable the flag")
	}
}

func TestRestore_ForceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctl.Manual(ctx, "preview_upload", "reason"); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	first := f.ctl.Restore(ctx, "preview_upload", true)
	if !first.Success {
		t.Fatalf("forced restore failed: %s", first.Message)
	}
	second := f.ctl.Restore(ctx, "preview_upload", true)
	if !second.Success {
		t.Fatalf("second forced restore failed: %s", second.Message)
	}
	if !strings.Contains(second.Message, "already enabled") {
		t.Errorf("second restore message = %q, want already-enabled no-op", second.Message)
	}
	if enabled, _ := f.store.IsEnabled(ctx, "preview_upload"); !enabled {
		t.Error("flag should be enabled after restore")
	}
}

func TestRestore_AfterCooldownElapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctl.Manual(ctx, "preview_upload", "reason"); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	f.clock.Advance(2 * time.Minute)

	res := f.ctl.Restore(ctx, "preview_upload", false)
	if !res.Success {
		t.Fatalf("restore after elapsed cooldown failed: %s", res.Message)
	}
	if enabled, _ := f.store.IsEnabled(ctx, "preview_upload"); !enabled {
		t.Error("flag not re-enabled")
	}
}

func TestRestore_NeverErasesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctl.Manual(ctx, "preview_upload", "one")
	_ = f.ctl.Restore(ctx, "preview_upload", true)
	f.clock.Advance(time.Minute)
	_, _ = f.ctl.Manual(ctx, "preview_upload", "two")
	_ = f.ctl.Restore(ctx, "preview_upload", true)

	if got := len(f.ctl.Events().All()); got != 2 {
		t.Errorf("history has %d events after restores, want 2", got)
	}
}

func TestRestore_PutsBackSnapshotState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Flag was already disabled when the operator rolled it back; restore
	// must not enable what rollback never disabled.
	f.store.Seed("dormant_feature", false)
	if _, err := f.ctl.Manual(ctx, "dormant_feature", "blanket incident response"); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	res := f.ctl.Restore(ctx, "dormant_feature", true)
	if !res.Success {
		t.Fatalf("restore failed: %s", res.Message)
	}
	if res.Enabled {
		t.Error("restore reported enabled=true for a flag that was disabled pre-rollback")
	}
	if enabled, _ := f.store.IsEnabled(ctx, "dormant_feature"); enabled {
		t.Error("flag should remain disabled, matching its pre-rollback snapshot")
	}
}

func TestLog_Recent(t *testing.T) {
	l := NewLog()
	for i := 0; i < 5; i++ {
		l.Append(Event{ID: string(rune('a' + i)), Flag: "f"})
	}

	recent := l.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d events", len(recent))
	}
	if recent[0].ID != "e" || recent[2].ID != "c" {
		t.Errorf("Recent order wrong: %v", recent)
	}
	if got := l.Recent(10); len(got) != 5 {
		t.Errorf("Recent beyond length returned %d", len(got))
	}
}
