// Package health computes breach verdicts from recorded flag usage against
// per-flag thresholds. Evaluation is O(1) and touches only in-memory state,
// so it can run inline after every recorded outcome.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/peoplecore/flagguard/internal/cooldown"
	"github.com/peoplecore/flagguard/internal/usage"
)

// ThresholdConfig holds the rollback thresholds for one flag. Flags without
// an explicit override use the evaluator's defaults.
type ThresholdConfig struct {
	// ErrorRateThreshold is the rolling error rate (0..1) above which the
	// flag is considered breaching.
	ErrorRateThreshold float64 `json:"errorRateThreshold"`
	// MinimumSampleSize is the number of recorded outcomes required before
	// a breach verdict is trusted.
	MinimumSampleSize int64 `json:"minimumSampleSize"`
	// CooldownDuration is how long the flag stays out of evaluation after
	// a rollback.
	CooldownDuration time.Duration `json:"cooldownDuration"`
	// AutoRollbackEnabled gates automatic rollback; manual rollback
	// ignores it.
	AutoRollbackEnabled bool `json:"autoRollbackEnabled"`
	// WindowDuration is the rolling window length before short-term
	// counters reset.
	WindowDuration time.Duration `json:"windowDuration"`
}

// Verdict is the result of evaluating one flag.
type Verdict struct {
	Flag      string  `json:"flag"`
	Healthy   bool    `json:"healthy"`
	Breach    bool    `json:"breach"`
	ErrorRate float64 `json:"errorRate"`
	Reason    string  `json:"reason"`
}

// Evaluator computes verdicts from recorder state and threshold config.
type Evaluator struct {
	recorder  *usage.Recorder
	cooldowns *cooldown.Registry

	mu        sync.RWMutex
	overrides map[string]ThresholdConfig
	defaults  ThresholdConfig
}

// NewEvaluator creates an evaluator reading from recorder and skipping
// flags with an active entry in cooldowns.
func NewEvaluator(recorder *usage.Recorder, cooldowns *cooldown.Registry, defaults ThresholdConfig) *Evaluator {
	return &Evaluator{
		recorder:  recorder,
		cooldowns: cooldowns,
		overrides: make(map[string]ThresholdConfig),
		defaults:  defaults,
	}
}

// Config returns the effective threshold config for flag.
func (e *Evaluator) Config(flag string) ThresholdConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if cfg, ok := e.overrides[flag]; ok {
		return cfg
	}
	return e.defaults
}

// SetConfig installs a per-flag override. This is the only way thresholds
// change after startup.
func (e *Evaluator) SetConfig(flag string, cfg ThresholdConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[flag] = cfg
}

// Evaluate returns the current verdict for flag.
//
// Order matters: an active cooldown short-circuits before the sample-size
// check so a freshly rolled-back flag (whose window was just reset) is
// reported as cooling down, not as "insufficient data".
func (e *Evaluator) Evaluate(flag string) Verdict {
	cfg := e.Config(flag)
	w := e.recorder.Window(flag)
	rate := w.ErrorRate()

	if e.cooldowns.IsActive(flag) {
		return Verdict{
			Flag:      flag,
			Healthy:   true,
			ErrorRate: rate,
			Reason:    "skipped: flag is in cooldown",
		}
	}

	if w.Requests < cfg.MinimumSampleSize {
		return Verdict{
			Flag:      flag,
			Healthy:   true,
			ErrorRate: rate,
			Reason:    fmt.Sprintf("insufficient data: %d of %d required samples", w.Requests, cfg.MinimumSampleSize),
		}
	}

	if rate > cfg.ErrorRateThreshold {
		return Verdict{
			Flag:      flag,
			Breach:    true,
			ErrorRate: rate,
			Reason: fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%% over %d requests",
				rate*100, cfg.ErrorRateThreshold*100, w.Requests),
		}
	}

	return Verdict{
		Flag:      flag,
		Healthy:   true,
		ErrorRate: rate,
		Reason:    "healthy",
	}
}

// Sweep rolls expired windows forward and evaluates every flag with
// recorded usage, returning the verdicts of flags found breaching.
// Window ages honor per-flag overrides, so flags sharing one sweep can
// still roll on different schedules.
func (e *Evaluator) Sweep() []Verdict {
	var breaches []Verdict
	for _, flag := range e.recorder.Flags() {
		cfg := e.Config(flag)
		if cfg.WindowDuration > 0 && e.recorder.WindowAge(flag) > cfg.WindowDuration {
			e.recorder.Reset(flag)
			continue
		}
		if v := e.Evaluate(flag); v.Breach {
			breaches = append(breaches, v)
		}
	}
	return breaches
}
