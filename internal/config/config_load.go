package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			BaseURL:    "http://127.0.0.1:18080",
			TimeoutSec: 30,
		},
		Storage: StorageConfig{
			ResourceRoot: "~/.qq-chat-exporter/resources",
			ExportRoot:   "~/.qq-chat-exporter/exports",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18791,
		},
		TaskStore: TaskStoreConfig{
			Path: "~/.qq-chat-exporter/exporter.db",
		},
		Fetch: FetchConfig{
			BatchSize:         100,
			MaxRetries:        3,
			RetryBaseDelay:    "1s",
			InterBatchDelayMs: 100,
		},
		Resource: ResourceConfig{
			MaxConcurrentDownloads:  3,
			MaxRetries:              3,
			DownloadTimeout:         "60s",
			CircuitBreakerThreshold: 5,
			CircuitBreakerCooldown:  "5m",
			HealthCheckInterval:     "10m",
			CacheTTLHours:           720,
		},
		Scheduler: SchedulerConfig{
			Timezone:     "Local",
			PollInterval: "1m",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
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

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and secrets (bridge/gateway tokens) come
// from the environment only — never persisted to config.json.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("QQCE_BRIDGE_BASE_URL", &c.Bridge.BaseURL)
	envStr("QQCE_BRIDGE_TOKEN", &c.Bridge.Token)
	envStr("QQCE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("QQCE_RESOURCE_ROOT", &c.Storage.ResourceRoot)
	envStr("QQCE_EXPORT_ROOT", &c.Storage.ExportRoot)
	envStr("QQCE_TASKSTORE_PATH", &c.TaskStore.Path)
	envStr("QQCE_HOST", &c.Gateway.Host)
	envStr("QQCE_SCHEDULER_TIMEZONE", &c.Scheduler.Timezone)

	if v := os.Getenv("QQCE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("QQCE_MAX_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Resource.MaxConcurrentDownloads = n
		}
	}
}

// Save writes the config to a JSON file with 0600 permissions (it may
// contain operator-provided overrides, even though secrets are excluded
// via `json:"-"`).
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, used by the hot-reload
// watcher to detect whether a reloaded file actually changed.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after a file reload to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
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
