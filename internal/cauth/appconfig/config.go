// Package appconfig loads and saves cauth's JSON config record, the
// injectable configuration surface spec.md §9's "Configuration surface"
// design note calls for: endpoints, keychain binary, and store roots,
// loaded the way the teacher's internal/config package loads config.json.
package appconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
)

const (
	defaultTokenURL = "https://console.anthropic.com/v1/oauth/token"
	defaultUsageURL = "https://api.anthropic.com/api/oauth/usage"
	defaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

// Config is the persisted cauth configuration record.
type Config struct {
	// DefaultProvider names a preferred service. It is loaded and saved
	// with the config file; no cauth command reads it.
	DefaultProvider string `json:"defaultProvider"`

	// DefaultProfiles maps a service name to a default profile name
	// (GetDefault/SetDefault). No cauth command reads it: commands that
	// act on a profile take its name as an argument.
	DefaultProfiles map[string]string `json:"defaultProfiles"`

	// AutoLock is loaded and saved with the config file; no cauth command
	// reads it, so which commands take the refresh locks does not depend
	// on it.
	AutoLock bool `json:"autoLock"`

	// BrowserProfile is carried for parity with the teacher's config
	// surface; cauth has no interactive login flow to apply it to.
	BrowserProfile string `json:"browserProfile,omitempty"`

	// Passthroughs lists dotfile paths copied into a new account root on
	// save, alongside the credential file.
	Passthroughs []string `json:"passthroughs,omitempty"`

	// TokenURL/UsageURL/ClientID/SecurityBin/AccountsRoot are the
	// injectable endpoints and roots. TokenURL, UsageURL and SecurityBin
	// are overridden by CLAUDE_CODE_TOKEN_URL, CLAUDE_CODE_USAGE_URL and
	// CAUTH_SECURITY_BIN when those are set, the env var taking precedence
	// over this file. ClientID and AccountsRoot have no environment
	// override: they come from this file or the defaults only.
	TokenURL     string `json:"tokenUrl,omitempty"`
	UsageURL     string `json:"usageUrl,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	SecurityBin  string `json:"securityBin,omitempty"`
	AccountsRoot string `json:"accountsRoot,omitempty"`

	// WatchDebounce bounds how long refresh --watch coalesces rapid
	// filesystem events before re-running refresh_all.
	WatchDebounce Duration `json:"watchDebounce,omitempty"`

	// LockIntegrityPassphrase, when set, turns on the lock directory's
	// scrypt-backed integrity stamp (lockmgr.Manager.WithIntegrityStamp):
	// a defensive check that the locks directory wasn't seeded by a
	// different host/keyring under a different passphrase. Empty
	// disables the check; most installs never share a locks directory.
	LockIntegrityPassphrase string `json:"lockIntegrityPassphrase,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults: DefaultProvider
// "claude", AutoLock true, and the built-in token/usage endpoints and
// OAuth client id.
func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "claude",
		DefaultProfiles: map[string]string{},
		AutoLock:        true,
		TokenURL:        defaultTokenURL,
		UsageURL:        defaultUsageURL,
		ClientID:        defaultClientID,
		WatchDebounce:   Duration(0),
	}
}

// ConfigPath returns the config file path: $CAUTH_CONFIG_HOME/config.json
// when set (a test-only override, checked first), else
// $XDG_CONFIG_HOME/cauth/config.json, else ~/.config/cauth/config.json.
func ConfigPath() string {
	if dir := os.Getenv("CAUTH_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "config.json")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cauth", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "cauth", "config.json")
	}
	return filepath.Join(home, ".config", "cauth", "config.json")
}

// Load reads the config file, returning DefaultConfig() when it doesn't
// exist. Environment variables from spec.md §6 override the loaded values.
func Load() (*Config, error) {
	data, exists, err := atomicfile.ReadIfExists(ConfigPath())
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if exists {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		if cfg.DefaultProfiles == nil {
			cfg.DefaultProfiles = map[string]string{}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CLAUDE_CODE_TOKEN_URL"); v != "" {
		c.TokenURL = v
	}
	if v := os.Getenv("CLAUDE_CODE_USAGE_URL"); v != "" {
		c.UsageURL = v
	}
	if v := os.Getenv("CAUTH_SECURITY_BIN"); v != "" {
		c.SecurityBin = v
	}
}

// Save writes the config file atomically with 0600 permissions.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return atomicfile.Write(path, data)
}

// GetDefault returns the default profile name for service, or "" when
// unset.
func (c *Config) GetDefault(service string) string {
	if c.DefaultProfiles == nil {
		return ""
	}
	return c.DefaultProfiles[service]
}

// SetDefault records the default profile for service, initializing the
// map if needed.
func (c *Config) SetDefault(service, profile string) {
	if c.DefaultProfiles == nil {
		c.DefaultProfiles = map[string]string{}
	}
	c.DefaultProfiles[service] = profile
}

// AddPassthrough appends path to Passthroughs if not already present.
func (c *Config) AddPassthrough(path string) {
	for _, p := range c.Passthroughs {
		if p == path {
			return
		}
	}
	c.Passthroughs = append(c.Passthroughs, path)
}

// RemovePassthrough removes path from Passthroughs, a no-op if absent.
func (c *Config) RemovePassthrough(path string) {
	for i, p := range c.Passthroughs {
		if p == path {
			c.Passthroughs = append(c.Passthroughs[:i], c.Passthroughs[i+1:]...)
			return
		}
	}
}
