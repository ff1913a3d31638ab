// Package monitor wires the flag health engine together: it owns the
// record -> evaluate -> rollback pipeline, the single periodic sweep, the
// persistence flush cycle, and the operator-facing status surface. All
// state is injected through Options so tests and multiple independent
// instances need no process-global registries.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/peoplecore/flagguard/internal/alerting"
	"github.com/peoplecore/flagguard/internal/cooldown"
	"github.com/peoplecore/flagguard/internal/flagstore"
	"github.com/peoplecore/flagguard/internal/health"
	"github.com/peoplecore/flagguard/internal/persistence"
	"github.com/peoplecore/flagguard/internal/rollback"
	"github.com/peoplecore/flagguard/internal/telemetry"
	"github.com/peoplecore/flagguard/internal/usage"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultFlushBatchSize = 100
	recentRollbackLimit   = 20
)

// Options configures a Monitor. Store is required; everything else has a
// usable default.
type Options struct {
	Store            flagstore.Store
	Persistence      persistence.Store
	Defaults         health.ThresholdConfig
	Overrides        map[string]health.ThresholdConfig
	SweepInterval    time.Duration
	FlushBatchSize   int
	AlertSuppression time.Duration
	Clock            cooldown.Clock
}

// Monitor is the health-driven circuit breaker for feature flags.
type Monitor struct {
	store   flagstore.Store
	persist persistence.Store

	recorder   *usage.Recorder
	cooldowns  *cooldown.Registry // rollback cooldowns
	alertCools *cooldown.Registry // alert suppression, separate keyspace
	evaluator  *health.Evaluator
	alerts     *alerting.Dispatcher
	controller *rollback.Controller

	// enabled is the in-memory flag view consulted on the record path so
	// recording never touches the store. Loaded at startup, maintained on
	// rollback/restore, refreshed by the sweep.
	flagsMu sync.RWMutex
	enabled map[string]bool

	// locks serializes the read-evaluate-disable sequence per flag.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// flushed counts rollback events already persisted, so each flush
	// appends only the new tail of the append-only log.
	flushMu sync.Mutex
	flushed int

	sweepInterval time.Duration
	flushBatch    int

	flushCh   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New builds a Monitor from Options. Call Load to pull persisted state,
// then Start to begin the periodic sweep.
func New(opts Options) *Monitor {
	if opts.Persistence == nil {
		opts.Persistence = persistence.NopStore{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.FlushBatchSize <= 0 {
		opts.FlushBatchSize = defaultFlushBatchSize
	}
	if opts.AlertSuppression <= 0 {
		opts.AlertSuppression = opts.Defaults.CooldownDuration
	}
	clock := opts.Clock
	if clock == nil {
		clock = cooldown.SystemClock{}
	}

	recorder := usage.NewRecorder(clock.Now)
	cooldowns := cooldown.New(clock)
	alertCools := cooldown.New(clock)
	evaluator := health.NewEvaluator(recorder, cooldowns, opts.Defaults)
	for flag, cfg := range opts.Overrides {
		evaluator.SetConfig(flag, cfg)
	}

	alerts := alerting.NewDispatcher(alertCools, opts.AlertSuppression)
	alerts.Register("log", alerting.LogSink{})
	alerts.SetHooks(
		func() { telemetry.AlertsDispatched.Inc() },
		func() { telemetry.AlertsSuppressed.Inc() },
	)

	events := rollback.NewLog()
	snapshots := rollback.NewSnapshotRegistry()
	controller := rollback.NewController(opts.Store, recorder, evaluator,
		cooldowns, alerts, events, snapshots, clock)

	return &Monitor{
		store:         opts.Store,
		persist:       opts.Persistence,
		recorder:      recorder,
		cooldowns:     cooldowns,
		alertCools:    alertCools,
		evaluator:     evaluator,
		alerts:        alerts,
		controller:    controller,
		enabled:       make(map[string]bool),
		locks:         make(map[string]*sync.Mutex),
		sweepInterval: opts.SweepInterval,
		flushBatch:    opts.FlushBatchSize,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Load restores persisted usage windows and rollback history, then syncs
// the in-memory flag view with the store. Persistence failures degrade to
// empty state; a store failure is fatal since the engine cannot run
// without knowing which flags exist.
func (m *Monitor) Load(ctx context.Context) error {
	windows, err := m.persist.LoadUsage(ctx)
	if err != nil {
		log.Printf("[monitor] usage state unavailable, starting empty: %v", err)
		windows = map[string]usage.Window{}
	}
	m.recorder.Restore(windows)

	events, err := m.persist.LoadRollbacks(ctx)
	if err != nil {
		log.Printf("[monitor] rollback history unavailable, starting empty: %v", err)
		events = nil
	}
	m.controller.Events().Replace(events)
	m.flushMu.Lock()
	m.flushed = len(events)
	m.flushMu.Unlock()

	if err := m.refreshFlagView(ctx); err != nil {
		return err
	}
	log.Printf("[monitor] loaded %d usage windows, %d rollback events, %d flags",
		len(windows), len(events), len(m.enabledSnapshot()))
	return nil
}

// Start launches the shared periodic sweep. One goroutine serves all
// flags regardless of how many exist.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.sweepLoop()
	})
}

// Close stops the sweep and performs a final flush. Safe to call more
// than once.
func (m *Monitor) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.Flush(ctx)
	})
	return err
}

// RecordOutcome registers the final outcome of one flagged request and
// evaluates the flag inline. Only enabled flags are measured. It never
// blocks the caller on I/O except when a breach actually executes the
// rollback, which the transport contract places after the response is
// already finalized.
func (m *Monitor) RecordOutcome(flag string, succeeded bool, errorDetail string) {
	m.flagsMu.RLock()
	enabled, known := m.enabled[flag]
	m.flagsMu.RUnlock()
	if known && !enabled {
		return
	}

	m.recorder.Record(flag, succeeded, errorDetail)
	result := "success"
	if !succeeded {
		result = "failure"
	}
	telemetry.OutcomesRecorded.WithLabelValues(flag, result).Inc()

	lock := m.flagLock(flag)
	lock.Lock()
	verdict := m.evaluator.Evaluate(flag)
	if verdict.Breach {
		m.executeAutomatic(context.Background(), flag, verdict)
	}
	lock.Unlock()

	if m.recorder.PendingMax() >= m.flushBatch {
		m.requestFlush()
	}
}

// executeAutomatic runs the rollback under the caller-held flag lock and
// keeps the in-memory flag view in sync.
func (m *Monitor) executeAutomatic(ctx context.Context, flag string, verdict health.Verdict) {
	event, err := m.controller.TriggerAutomatic(ctx, flag, verdict)
	if err != nil {
		log.Printf("[monitor] automatic rollback of %s failed: %v", flag, err)
		return
	}
	if event == nil {
		return
	}
	telemetry.Rollbacks.WithLabelValues(string(rollback.TriggerAutomatic)).Inc()
	m.setFlagView(flag, false)
	m.requestFlush()
}

// ManualRollback disables a flag on operator request. A breach is not
// required and AutoRollbackEnabled is ignored.
func (m *Monitor) ManualRollback(ctx context.Context, flag, reason string) (*rollback.Event, error) {
	lock := m.flagLock(flag)
	lock.Lock()
	event, err := m.controller.Manual(ctx, flag, reason)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	telemetry.Rollbacks.WithLabelValues(string(rollback.TriggerManual)).Inc()
	m.setFlagView(flag, false)

	// Operator-invoked: awaiting the flush is acceptable.
	if ferr := m.Flush(ctx); ferr != nil {
		log.Printf("[monitor] flush after manual rollback failed: %v", ferr)
	}
	return event, nil
}

// Restore re-enables a rolled-back flag. See rollback.Controller.Restore
// for the force semantics.
func (m *Monitor) Restore(ctx context.Context, flag string, force bool) rollback.RestoreResult {
	lock := m.flagLock(flag)
	lock.Lock()
	res := m.controller.Restore(ctx, flag, force)
	lock.Unlock()

	if res.Success {
		telemetry.Restores.Inc()
		m.setFlagView(flag, res.Enabled)
		if err := m.Flush(ctx); err != nil {
			log.Printf("[monitor] flush after restore failed: %v", err)
		}
	}
	return res
}

// RegisterAlertHandler plugs a custom notification handler in as a sink.
func (m *Monitor) RegisterAlertHandler(name string, fn alerting.HandlerFunc) {
	m.alerts.RegisterFunc(name, fn)
}

// RegisterAlertSink plugs a full Sink implementation in.
func (m *Monitor) RegisterAlertSink(name string, s alerting.Sink) {
	m.alerts.Register(name, s)
}

// Reconfigure replaces the threshold config for one flag.
func (m *Monitor) Reconfigure(flag string, cfg health.ThresholdConfig) {
	m.evaluator.SetConfig(flag, cfg)
	log.Printf("[monitor] thresholds reconfigured for %s: rate=%.2f%% min_sample=%d",
		flag, cfg.ErrorRateThreshold*100, cfg.MinimumSampleSize)
}

// Flush persists a consistent snapshot of usage windows plus the
// unpersisted tail of the rollback log. The recorder's snapshot-and-clear
// keeps outcomes recorded during the flush safe in the live buffers.
func (m *Monitor) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	start := time.Now()
	windows, pending := m.recorder.Snapshot()
	if err := m.persist.SaveUsage(ctx, windows); err != nil {
		// Hand the cleared counters back so the batch trigger still
		// fires for outcomes this flush failed to persist.
		m.recorder.RefillPending(pending)
		return err
	}

	all := m.controller.Events().All()
	if len(all) > m.flushed {
		if err := m.persist.AppendRollbacks(ctx, all[m.flushed:]); err != nil {
			return err
		}
		m.flushed = len(all)
	}
	telemetry.FlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

// requestFlush schedules an asynchronous flush; collapses duplicates.
func (m *Monitor) requestFlush() {
	select {
	case m.flushCh <- struct{}{}:
	default:
	}
}

// sweepLoop is the single scheduled task shared by all flags: it rolls
// windows forward, acts on breaches, purges expired cooldowns, refreshes
// the flag view, and services async flush requests.
func (m *Monitor) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.flushCh:
			if err := m.Flush(context.Background()); err != nil {
				log.Printf("[monitor] background flush failed: %v", err)
			}
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep runs one pass of the shared periodic maintenance.
func (m *Monitor) sweep() {
	ctx := context.Background()

	for _, verdict := range m.evaluator.Sweep() {
		lock := m.flagLock(verdict.Flag)
		lock.Lock()
		// Re-evaluate under the lock: an inline evaluation may have won.
		if v := m.evaluator.Evaluate(verdict.Flag); v.Breach {
			m.executeAutomatic(ctx, verdict.Flag, v)
		}
		lock.Unlock()
	}

	m.cooldowns.Purge()
	m.alertCools.Purge()
	telemetry.ActiveCooldowns.Set(float64(len(m.cooldowns.Active())))

	if err := m.refreshFlagView(ctx); err != nil {
		log.Printf("[monitor] flag view refresh failed: %v", err)
	}
}

func (m *Monitor) flagLock(flag string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[flag]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[flag] = lock
	}
	return lock
}

func (m *Monitor) setFlagView(flag string, enabled bool) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	m.enabled[flag] = enabled
}

func (m *Monitor) refreshFlagView(ctx context.Context) error {
	flags, err := m.store.ListFlags(ctx)
	if err != nil {
		return err
	}
	view := make(map[string]bool, len(flags))
	for _, f := range flags {
		view[f.Name] = f.Enabled
	}
	m.flagsMu.Lock()
	m.enabled = view
	m.flagsMu.Unlock()
	return nil
}

func (m *Monitor) enabledSnapshot() map[string]bool {
	m.flagsMu.RLock()
	defer m.flagsMu.RUnlock()
	out := make(map[string]bool, len(m.enabled))
	for k, v := range m.enabled {
		out[k] = v
	}
	return out
}
