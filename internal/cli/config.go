package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables overlaying the config file. Flags overlay both.
const (
	EnvBaseURL = "FLAGGUARD_BASE_URL"
	EnvAPIKey  = "FLAGGUARD_API_KEY"
)

const defaultContext = "default"

// Context names one flagguard server the CLI can talk to.
type Context struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Config is the on-disk CLI configuration: a set of named contexts and
// the one used when --env is not given.
type Config struct {
	CurrentContext string             `yaml:"current_context"`
	Contexts       map[string]Context `yaml:"contexts"`
}

// Set updates one field of the named context, creating it on first use.
func (c *Config) Set(name, key, value string) error {
	if c.Contexts == nil {
		c.Contexts = make(map[string]Context)
	}
	ctx := c.Contexts[name]
	switch key {
	case "base_url":
		ctx.BaseURL = value
	case "api_key":
		ctx.APIKey = value
	default:
		return fmt.Errorf("unknown key %q, valid keys: base_url, api_key", key)
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return nil
}

// ConfigPath returns the location of the CLI config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".flagguard", "config.yaml"), nil
}

// LoadConfig reads the config file. A missing file is not an error: the
// CLI still works from flags and environment variables alone.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Contexts: make(map[string]Context)}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	return &cfg, nil
}

// SaveConfig writes the config file, creating its directory on first use.
// The file holds API keys, hence the restrictive modes.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Resolve builds the effective connection settings for one invocation.
// Each field is resolved independently: flag, then environment variable,
// then the named context from the config file. name defaults to the
// file's current_context, then to "default".
func Resolve(name, baseURLFlag, apiKeyFlag string) (Context, string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Context{}, "", err
	}

	if name == "" {
		name = cfg.CurrentContext
	}
	if name == "" {
		name = defaultContext
	}

	ctx := cfg.Contexts[name]
	if v := os.Getenv(EnvBaseURL); v != "" {
		ctx.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		ctx.APIKey = v
	}
	if baseURLFlag != "" {
		ctx.BaseURL = baseURLFlag
	}
	if apiKeyFlag != "" {
		ctx.APIKey = apiKeyFlag
	}

	if ctx.BaseURL == "" {
		return Context{}, "", fmt.Errorf("no base URL for context %q: set --base-url, %s, or run 'flagguard config set %s.base_url <url>'", name, EnvBaseURL, name)
	}
	if ctx.APIKey == "" {
		return Context{}, "", fmt.Errorf("no API key for context %q: set --api-key, %s, or run 'flagguard config set %s.api_key <key>'", name, EnvAPIKey, name)
	}
	return ctx, name, nil
}

// WriteStarterConfig creates a config file with a single local context.
// Refuses to clobber an existing file.
func WriteStarterConfig() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	return SaveConfig(&Config{
		CurrentContext: defaultContext,
		Contexts: map[string]Context{
			defaultContext: {
				BaseURL: "http://localhost:8080",
				APIKey:  "change-me",
			},
		},
	})
}
