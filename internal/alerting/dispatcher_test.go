package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peoplecore/flagguard/internal/cooldown"
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

// captureSink records every delivered payload.
type captureSink struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
}

func (c *captureSink) Deliver(_ context.Context, _ string, p Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return c.err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestNotify_SuppressesDuplicatesWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	sink := &captureSink{}

	d := NewDispatcher(cooldown.New(clock), time.Minute)
	d.Register("capture", sink)

	key := Key(TypeFlagRollback, "payroll_export")
	p := Payload{Type: TypeFlagRollback, Flag: "payroll_export", Message: "rolled back"}

	d.Notify(context.Background(), key, p)
	d.Notify(context.Background(), key, p)

	if got := sink.count(); got != 1 {
		t.Fatalf("two notifies within the window delivered %d times, want 1", got)
	}

	// After the window elapses a third call dispatches again.
	clock.Advance(2 * time.Minute)
	d.Notify(context.Background(), key, p)

	if got := sink.count(); got != 2 {
		t.Errorf("notify after window elapsed delivered %d times total, want 2", got)
	}
}

func TestNotify_SuppressionIsPerTypeAndFlag(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.Register("capture", sink)

	d.Notify(context.Background(), Key(TypeFlagRollback, "flag_a"), Payload{Flag: "flag_a"})
	d.Notify(context.Background(), Key(TypeFlagRollback, "flag_b"), Payload{Flag: "flag_b"})
	d.Notify(context.Background(), Key(TypeFlagRestored, "flag_a"), Payload{Flag: "flag_a"})

	if got := sink.count(); got != 3 {
		t.Errorf("unrelated keys must not cross-suppress: delivered %d, want 3", got)
	}
}

func TestNotify_SinkFailureDoesNotBlockOthers(t *testing.T) {
	failing := &captureSink{err: errors.New("sink down")}
	healthy := &captureSink{}

	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.Register("failing", failing)
	d.Register("healthy", healthy)

	// Must not panic or return anything to the caller.
	d.Notify(context.Background(), Key(TypeFlagRollback, "flag"), Payload{Flag: "flag"})

	if healthy.count() != 1 {
		t.Error("healthy sink skipped after another sink failed")
	}
}

func TestNotify_NoSinksIsSafe(t *testing.T) {
	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.Notify(context.Background(), Key(TypeFlagRollback, "flag"), Payload{Flag: "flag"})
}

func TestRegisterFunc(t *testing.T) {
	var delivered int
	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.RegisterFunc("custom", func(_ context.Context, _ string, _ Payload) error {
		delivered++
		return nil
	})

	d.Notify(context.Background(), Key(TypeFlagRollback, "flag"), Payload{Flag: "flag"})
	if delivered != 1 {
		t.Errorf("handler func delivered %d times, want 1", delivered)
	}
}

func TestNotify_Hooks(t *testing.T) {
	var delivered, suppressed int
	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.SetHooks(func() { delivered++ }, func() { suppressed++ })

	key := Key(TypeFlagRollback, "flag")
	d.Notify(context.Background(), key, Payload{Flag: "flag"})
	d.Notify(context.Background(), key, Payload{Flag: "flag"})

	if delivered != 1 || suppressed != 1 {
		t.Errorf("hooks recorded delivered=%d suppressed=%d, want 1/1", delivered, suppressed)
	}
}

func TestNotify_StampsOccurredAt(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(cooldown.New(nil), time.Minute)
	d.Register("capture", sink)

	d.Notify(context.Background(), Key(TypeFlagRollback, "flag"), Payload{Flag: "flag"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.payloads[0].OccurredAt.IsZero() {
		t.Error("dispatcher must stamp OccurredAt when unset")
	}
}
