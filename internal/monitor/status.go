package monitor

import (
	"sort"
	"time"
)

// Flag lifecycle states reported by GetHealthStatus.
const (
	StatusHealthy          = "healthy"
	StatusUnhealthy        = "unhealthy"
	StatusCooldown         = "cooldown"
	StatusDisabled         = "disabled"
	StatusInsufficientData = "insufficient_data"
)

// FlagHealth is the per-flag slice of the health report.
type FlagHealth struct {
	Enabled       bool       `json:"enabled"`
	Status        string     `json:"status"`
	ErrorRatePct  float64    `json:"errorRatePct"`
	Requests      int64      `json:"requests"`
	Errors        int64      `json:"errors"`
	TotalRequests int64      `json:"totalRequests"`
	TotalErrors   int64      `json:"totalErrors"`
	LastErrorAt   *time.Time `json:"lastErrorAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	ThresholdPct  float64    `json:"thresholdPct"`
	SampleSizeMin int64      `json:"sampleSizeMin"`
	AutoRollback  bool       `json:"autoRollback"`
}

// CooldownStatus describes one active rollback cooldown. RemainingMs is
// plain milliseconds, not a time.Duration, so the JSON value matches the
// field name instead of marshaling as nanoseconds.
type CooldownStatus struct {
	Flag        string    `json:"flag"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RemainingMs int64     `json:"remainingMs"`
}

// Status is the full health report returned to operators.
type Status struct {
	PerFlag         map[string]FlagHealth `json:"perFlag"`
	RecentRollbacks []RollbackSummary     `json:"recentRollbacks"`
	ActiveCooldowns []CooldownStatus      `json:"activeCooldowns"`
}

// RollbackSummary is the condensed event view embedded in the report.
type RollbackSummary struct {
	ID           string    `json:"id"`
	Flag         string    `json:"flag"`
	Timestamp    time.Time `json:"timestamp"`
	Trigger      string    `json:"trigger"`
	ErrorRatePct float64   `json:"errorRatePct"`
	Note         string    `json:"note,omitempty"`
}

// GetHealthStatus assembles the current health report across every flag
// known to the store view or the recorder.
func (m *Monitor) GetHealthStatus() Status {
	perFlag := make(map[string]FlagHealth)

	names := make(map[string]struct{})
	for flag := range m.enabledSnapshot() {
		names[flag] = struct{}{}
	}
	for _, flag := range m.recorder.Flags() {
		names[flag] = struct{}{}
	}

	view := m.enabledSnapshot()
	for flag := range names {
		w := m.recorder.Window(flag)
		cfg := m.evaluator.Config(flag)
		enabled := view[flag]

		fh := FlagHealth{
			Enabled:       enabled,
			ErrorRatePct:  w.ErrorRate() * 100,
			Requests:      w.Requests,
			Errors:        w.Errors,
			TotalRequests: w.TotalRequests,
			TotalErrors:   w.TotalErrors,
			ThresholdPct:  cfg.ErrorRateThreshold * 100,
			SampleSizeMin: cfg.MinimumSampleSize,
			AutoRollback:  cfg.AutoRollbackEnabled,
		}
		if !w.LastErrorAt.IsZero() {
			at := w.LastErrorAt
			fh.LastErrorAt = &at
		}
		if !w.LastSuccessAt.IsZero() {
			at := w.LastSuccessAt
			fh.LastSuccessAt = &at
		}

		switch {
		case m.cooldowns.IsActive(flag):
			fh.Status = StatusCooldown
		case !enabled:
			fh.Status = StatusDisabled
		case w.Requests < cfg.MinimumSampleSize:
			fh.Status = StatusInsufficientData
		case w.ErrorRate() > cfg.ErrorRateThreshold:
			fh.Status = StatusUnhealthy
		default:
			fh.Status = StatusHealthy
		}
		perFlag[flag] = fh
	}

	recent := make([]RollbackSummary, 0, recentRollbackLimit)
	for _, e := range m.controller.Events().Recent(recentRollbackLimit) {
		recent = append(recent, RollbackSummary{
			ID:           e.ID,
			Flag:         e.Flag,
			Timestamp:    e.Timestamp,
			Trigger:      string(e.Trigger),
			ErrorRatePct: e.Reason.ErrorRate * 100,
			Note:         e.Reason.Note,
		})
	}

	active := m.cooldowns.Active()
	cooldowns := make([]CooldownStatus, 0, len(active))
	now := time.Now()
	for flag, expiresAt := range active {
		cooldowns = append(cooldowns, CooldownStatus{
			Flag:        flag,
			ExpiresAt:   expiresAt,
			RemainingMs: expiresAt.Sub(now).Milliseconds(),
		})
	}
	sort.Slice(cooldowns, func(i, j int) bool { return cooldowns[i].Flag < cooldowns[j].Flag })

	return Status{
		PerFlag:         perFlag,
		RecentRollbacks: recent,
		ActiveCooldowns: cooldowns,
	}
}

// History returns up to limit rollback events, newest first.
func (m *Monitor) History(limit int) []RollbackSummary {
	if limit <= 0 {
		limit = recentRollbackLimit
	}
	events := m.controller.Events().Recent(limit)
	out := make([]RollbackSummary, 0, len(events))
	for _, e := range events {
		out = append(out, RollbackSummary{
			ID:           e.ID,
			Flag:         e.Flag,
			Timestamp:    e.Timestamp,
			Trigger:      string(e.Trigger),
			ErrorRatePct: e.Reason.ErrorRate * 100,
			Note:         e.Reason.Note,
		})
	}
	return out
}
