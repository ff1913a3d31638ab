package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peoplecore/flagguard/internal/health"
)

// flagOverride is one flag's entry in the overrides file. Pointer fields
// distinguish "unset, inherit the global default" from an explicit zero.
type flagOverride struct {
	ErrorRateThresholdPct *float64 `yaml:"error_rate_threshold_pct"`
	MinSampleSize         *int64   `yaml:"min_sample_size"`
	CooldownMs            *int64   `yaml:"cooldown_ms"`
	WindowMs              *int64   `yaml:"window_ms"`
	AutoRollback          *bool    `yaml:"auto_rollback"`
}

type overridesFile struct {
	Flags map[string]flagOverride `yaml:"flags"`
}

// LoadOverrides reads the per-flag threshold overrides file named by
// OverridesFile. Fields a flag leaves unset inherit the global defaults.
// An empty OverridesFile means no overrides.
func (c *Config) LoadOverrides() (map[string]health.ThresholdConfig, error) {
	if c.OverridesFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.OverridesFile)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}

	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse overrides file: %w", err)
	}

	defaults := c.Thresholds()
	out := make(map[string]health.ThresholdConfig, len(file.Flags))
	for flag, o := range file.Flags {
		cfg := defaults
		if o.ErrorRateThresholdPct != nil {
			if *o.ErrorRateThresholdPct <= 0 || *o.ErrorRateThresholdPct > 100 {
				return nil, fmt.Errorf("overrides for %s: error_rate_threshold_pct must be in (0, 100]", flag)
			}
			cfg.ErrorRateThreshold = *o.ErrorRateThresholdPct / 100
		}
		if o.MinSampleSize != nil {
			if *o.MinSampleSize <= 0 {
				return nil, fmt.Errorf("overrides for %s: min_sample_size must be positive", flag)
			}
			cfg.MinimumSampleSize = *o.MinSampleSize
		}
		if o.CooldownMs != nil {
			if *o.CooldownMs <= 0 {
				return nil, fmt.Errorf("overrides for %s: cooldown_ms must be positive", flag)
			}
			cfg.CooldownDuration = time.Duration(*o.CooldownMs) * time.Millisecond
		}
		if o.WindowMs != nil {
			if *o.WindowMs <= 0 {
				return nil, fmt.Errorf("overrides for %s: window_ms must be positive", flag)
			}
			cfg.WindowDuration = time.Duration(*o.WindowMs) * time.Millisecond
		}
		if o.AutoRollback != nil {
			cfg.AutoRollbackEnabled = *o.AutoRollback
		}
		out[flag] = cfg
	}
	return out, nil
}
