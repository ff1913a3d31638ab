package config

import (
	"os"
	"testing"
	"time"
)

func clearConfigEnv() {
	env := []string{
		"APP_ENV", "APP_HTTP_ADDR", "METRICS_ADDR", "ADMIN_API_KEY",
		"STORE_TYPE", "DB_DSN", "PERSIST_TYPE", "PERSIST_PATH",
		"ERROR_RATE_THRESHOLD_PCT", "MIN_SAMPLE_SIZE", "COOLDOWN_MS",
		"WINDOW_MS", "AUTO_ROLLBACK_ENABLED", "SWEEP_INTERVAL_MS",
		"FLUSH_BATCH_SIZE", "ALERT_SUPPRESSION_MS", "WEBHOOK_URL", "WEBHOOK_SECRET",
	}
	for _, key := range env {
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearConfigEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "dev" {
		t.Errorf("Expected AppEnv='dev', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr=':8080', got '%s'", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("Expected MetricsAddr=':9090', got '%s'", cfg.MetricsAddr)
	}
	if cfg.AdminAPIKey != "admin-123" {
		t.Errorf("Expected AdminAPIKey='admin-123', got '%s'", cfg.AdminAPIKey)
	}
	if cfg.StoreType != "postgres" {
		t.Errorf("Expected StoreType='postgres', got '%s'", cfg.StoreType)
	}
	if cfg.PersistType != "file" {
		t.Errorf("Expected PersistType='file', got '%s'", cfg.PersistType)
	}
	if cfg.ErrorRateThresholdPct != 5.0 {
		t.Errorf("Expected ErrorRateThresholdPct=5.0, got %v", cfg.ErrorRateThresholdPct)
	}
	if cfg.MinSampleSize != 50 {
		t.Errorf("Expected MinSampleSize=50, got %d", cfg.MinSampleSize)
	}
	if cfg.CooldownDuration != 5*time.Minute {
		t.Errorf("Expected CooldownDuration=5m, got %v", cfg.CooldownDuration)
	}
	if cfg.WindowDuration != time.Minute {
		t.Errorf("Expected WindowDuration=1m, got %v", cfg.WindowDuration)
	}
	if !cfg.AutoRollbackEnabled {
		t.Error("Expected AutoRollbackEnabled=true by default")
	}
	if cfg.FlushBatchSize != 100 {
		t.Errorf("Expected FlushBatchSize=100, got %d", cfg.FlushBatchSize)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Setenv("APP_ENV", "test")
	os.Setenv("APP_HTTP_ADDR", ":9999")
	os.Setenv("ADMIN_API_KEY", "custom-key")
	os.Setenv("STORE_TYPE", "memory")
	os.Setenv("PERSIST_TYPE", "none")
	os.Setenv("ERROR_RATE_THRESHOLD_PCT", "2.5")
	os.Setenv("MIN_SAMPLE_SIZE", "25")
	os.Setenv("COOLDOWN_MS", "60000")
	os.Setenv("AUTO_ROLLBACK_ENABLED", "false")
	defer clearConfigEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.AppEnv != "test" {
		t.Errorf("Expected AppEnv='test', got '%s'", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("Expected HTTPAddr=':9999', got '%s'", cfg.HTTPAddr)
	}
	if cfg.AdminAPIKey != "custom-key" {
		t.Errorf("Expected AdminAPIKey='custom-key', got '%s'", cfg.AdminAPIKey)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("Expected StoreType='memory', got '%s'", cfg.StoreType)
	}
	if cfg.PersistType != "none" {
		t.Errorf("Expected PersistType='none', got '%s'", cfg.PersistType)
	}
	if cfg.ErrorRateThresholdPct != 2.5 {
		t.Errorf("Expected ErrorRateThresholdPct=2.5, got %v", cfg.ErrorRateThresholdPct)
	}
	if cfg.MinSampleSize != 25 {
		t.Errorf("Expected MinSampleSize=25, got %d", cfg.MinSampleSize)
	}
	if cfg.CooldownDuration != time.Minute {
		t.Errorf("Expected CooldownDuration=1m, got %v", cfg.CooldownDuration)
	}
	if cfg.AutoRollbackEnabled {
		t.Error("Expected AutoRollbackEnabled=false")
	}
}

func TestThresholdsConversion(t *testing.T) {
	clearConfigEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	th := cfg.Thresholds()
	if th.ErrorRateThreshold != 0.05 {
		t.Errorf("Expected ErrorRateThreshold=0.05, got %v", th.ErrorRateThreshold)
	}
	if th.MinimumSampleSize != 50 {
		t.Errorf("Expected MinimumSampleSize=50, got %d", th.MinimumSampleSize)
	}
	if th.CooldownDuration != 5*time.Minute {
		t.Errorf("Expected CooldownDuration=5m, got %v", th.CooldownDuration)
	}
}

func TestValidate(t *testing.T) {
	clearConfigEnv()

	base := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Errorf("default dev config should validate: %v", err)
	}

	cfg := base()
	cfg.StoreType = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown store type")
	}

	cfg = base()
	cfg.StoreType = "postgres"
	cfg.DatabaseDSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for postgres store without DSN")
	}

	cfg = base()
	cfg.PersistType = "s3"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown persist type")
	}

	cfg = base()
	cfg.PersistType = "file"
	cfg.PersistPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for file persistence without path")
	}

	cfg = base()
	cfg.ErrorRateThresholdPct = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero threshold")
	}

	cfg = base()
	cfg.WebhookURL = "https://hooks.example.com/flagguard"
	cfg.WebhookSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for webhook URL without secret")
	}

	cfg = base()
	cfg.AppEnv = "prod"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for default admin key in production")
	}

	cfg = base()
	cfg.MetricsAddr = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for empty metrics address")
	}
	if verr, ok := err.(ValidationError); !ok || verr.Field != "METRICS_ADDR" {
		t.Errorf("expected METRICS_ADDR validation error, got %v", err)
	}
}
