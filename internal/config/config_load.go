package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		StateDir: "~/.weclaw",
		Defaults: AccountDefaults{
			Backend:     BackendBridge,
			DMPolicy:    "pairing",
			GroupPolicy: "open",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("WECLAW_STATE_DIR", &c.StateDir)
	envStr("WECLAW_AGENT_URL", &c.Agent.URL)
	envStr("WECLAW_AGENT_API_KEY", &c.Agent.APIKey)
	envStr("WECLAW_BRIDGE_URL", &c.Defaults.BridgeURL)
	envStr("WECLAW_STT_PROXY_URL", &c.Defaults.Voice.ProxyURL)
	envStr("WECLAW_STT_API_KEY", &c.Defaults.Voice.APIKey)

	if v := os.Getenv("WECLAW_MIN_REPLY_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.Defaults.MinReplyDelayMs = ms
		}
	}
}

// StatePath returns the expanded state directory, with sub joined onto it.
func (c *Config) StatePath(sub ...string) string {
	parts := append([]string{ExpandHome(c.StateDir)}, sub...)
	return filepath.Join(parts...)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
