package cli

import (
	"os"
	"strings"
	"testing"
)

// isolateHome points the config path at a throwaway directory and
// clears the overlay environment variables.
func isolateHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvBaseURL, "")
	t.Setenv(EnvAPIKey, "")
}

func TestLoadConfig_MissingFileIsEmpty(t *testing.T) {
	isolateHome(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CurrentContext != "" || len(cfg.Contexts) != 0 {
		t.Errorf("missing file should load empty, got %+v", cfg)
	}
}

func TestConfig_SetAndRoundTrip(t *testing.T) {
	isolateHome(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Set("prod", "base_url", "https://flags.internal"); err != nil {
		t.Fatalf("Set base_url failed: %v", err)
	}
	if err := cfg.Set("prod", "api_key", "s3cret"); err != nil {
		t.Fatalf("Set api_key failed: %v", err)
	}
	if err := cfg.Set("prod", "password", "nope"); err == nil {
		t.Error("Set with unknown key should fail")
	}
	// First context written becomes the current one.
	if cfg.CurrentContext != "prod" {
		t.Errorf("CurrentContext = %q, want prod", cfg.CurrentContext)
	}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	path, _ := ConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	reloaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.Contexts["prod"]; got.BaseURL != "https://flags.internal" || got.APIKey != "s3cret" {
		t.Errorf("reloaded context = %+v", got)
	}
}

func TestResolve_Precedence(t *testing.T) {
	isolateHome(t)

	cfg := &Config{
		CurrentContext: "staging",
		Contexts: map[string]Context{
			"staging": {BaseURL: "https://staging.internal", APIKey: "staging-key"},
			"prod":    {BaseURL: "https://prod.internal", APIKey: "prod-key"},
		},
	}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	// No name: the file's current context wins.
	target, name, err := Resolve("", "", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if name != "staging" || target.BaseURL != "https://staging.internal" {
		t.Errorf("resolved %q %+v, want staging context", name, target)
	}

	// Explicit name selects another context.
	target, name, err = Resolve("prod", "", "")
	if err != nil {
		t.Fatalf("Resolve(prod) failed: %v", err)
	}
	if name != "prod" || target.APIKey != "prod-key" {
		t.Errorf("resolved %q %+v, want prod context", name, target)
	}

	// Environment variables overlay single fields from the file.
	t.Setenv(EnvAPIKey, "rotated-key")
	target, _, err = Resolve("prod", "", "")
	if err != nil {
		t.Fatalf("Resolve with env overlay failed: %v", err)
	}
	if target.BaseURL != "https://prod.internal" || target.APIKey != "rotated-key" {
		t.Errorf("env overlay wrong: %+v", target)
	}

	// Flags beat both.
	target, _, err = Resolve("prod", "http://localhost:9999", "flag-key")
	if err != nil {
		t.Fatalf("Resolve with flags failed: %v", err)
	}
	if target.BaseURL != "http://localhost:9999" || target.APIKey != "flag-key" {
		t.Errorf("flag overlay wrong: %+v", target)
	}
}

func TestResolve_WorksWithoutConfigFile(t *testing.T) {
	isolateHome(t)

	target, name, err := Resolve("", "http://localhost:8080", "adhoc-key")
	if err != nil {
		t.Fatalf("Resolve from flags alone failed: %v", err)
	}
	if name != "default" || target.BaseURL != "http://localhost:8080" {
		t.Errorf("resolved %q %+v", name, target)
	}

	_, _, err = Resolve("", "http://localhost:8080", "")
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("missing key error = %v", err)
	}
	_, _, err = Resolve("", "", "adhoc-key")
	if err == nil || !strings.Contains(err.Error(), "base URL") {
		t.Errorf("missing URL error = %v", err)
	}
}

func TestWriteStarterConfig_RefusesOverwrite(t *testing.T) {
	isolateHome(t)

	if err := WriteStarterConfig(); err != nil {
		t.Fatalf("WriteStarterConfig failed: %v", err)
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, ok := cfg.Contexts[cfg.CurrentContext]; !ok {
		t.Errorf("starter config has no context for current_context %q", cfg.CurrentContext)
	}

	if err := WriteStarterConfig(); err == nil {
		t.Error("second WriteStarterConfig should refuse to overwrite")
	}
}
