package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching the
// tolerant unmarshalling idiom used throughout hand-edited config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the export engine.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	TaskStore TaskStoreConfig `json:"task_store"`
	Fetch     FetchConfig     `json:"fetch"`
	Resource  ResourceConfig  `json:"resource"`
	Scheduler SchedulerConfig `json:"scheduler"`
	mu        sync.RWMutex
}

// BridgeConfig points at the upstream chat-client bridge process.
// Token is a secret: never persisted to config.json, env-only.
type BridgeConfig struct {
	BaseURL    string `json:"base_url"`
	Token      string `json:"-"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// StorageConfig configures the content-addressed resource store and export
// output directory.
type StorageConfig struct {
	ResourceRoot string `json:"resource_root"`
	ExportRoot   string `json:"export_root"`
}

// GatewayConfig configures the WebSocket/HTTP event surface.
// Token is a secret: never persisted, env-only.
type GatewayConfig struct {
	Host           string              `json:"host"`
	Port           int                 `json:"port"`
	Token          string              `json:"-"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins,omitempty"`
}

// TaskStoreConfig configures the embedded task/resource/schedule database.
type TaskStoreConfig struct {
	Path string `json:"path"`
}

// FetchConfig configures the message fetcher.
type FetchConfig struct {
	BatchSize         int    `json:"batch_size,omitempty"`
	MaxRetries        int    `json:"max_retries,omitempty"`
	RetryBaseDelay    string `json:"retry_base_delay,omitempty"`
	InterBatchDelayMs int    `json:"inter_batch_delay_ms,omitempty"`
}

// ResourceConfig configures the resource handler's download pool and
// circuit breaker.
type ResourceConfig struct {
	MaxConcurrentDownloads  int    `json:"max_concurrent_downloads,omitempty"`
	MaxRetries              int    `json:"max_retries,omitempty"`
	DownloadTimeout         string `json:"download_timeout,omitempty"`
	CircuitBreakerThreshold int    `json:"circuit_breaker_threshold,omitempty"`
	CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown,omitempty"`
	HealthCheckInterval     string `json:"health_check_interval,omitempty"`
	CacheTTLHours           int    `json:"cache_ttl_hours,omitempty"`
}

// SchedulerConfig configures the cron-driven scheduled export runner.
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config hot-reload watcher.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge = src.Bridge
	c.Storage = src.Storage
	c.Gateway = src.Gateway
	c.TaskStore = src.TaskStore
	c.Fetch = src.Fetch
	c.Resource = src.Resource
	c.Scheduler = src.Scheduler
}

// Snapshot returns a copy of the config safe for concurrent read access.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Bridge:    c.Bridge,
		Storage:   c.Storage,
		Gateway:   c.Gateway,
		TaskStore: c.TaskStore,
		Fetch:     c.Fetch,
		Resource:  c.Resource,
		Scheduler: c.Scheduler,
	}
}
