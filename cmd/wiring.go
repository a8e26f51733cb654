package cmd

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/config"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// buildAdapter wires a BridgeClient from the bridge section of cfg. It is
// the only place a cmd talks to upstream directly; everything downstream
// takes the upstream.Adapter interface.
func buildAdapter(cfg *config.Config) upstream.Adapter {
	timeout := time.Duration(cfg.Bridge.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = upstream.DefaultTimeout
	}
	return upstream.NewBridgeClient(cfg.Bridge.BaseURL, cfg.Bridge.Token, timeout)
}

// buildResourceConfig translates the resource section of cfg into
// resource.Config, falling back to resource.DefaultConfig for any
// duration string that fails to parse or is left blank.
func buildResourceConfig(cfg *config.Config) resource.Config {
	rc := resource.DefaultConfig(config.ExpandHome(cfg.Storage.ResourceRoot))

	if cfg.Resource.MaxConcurrentDownloads > 0 {
		rc.MaxConcurrentDownloads = cfg.Resource.MaxConcurrentDownloads
	}
	if cfg.Resource.MaxRetries > 0 {
		rc.MaxRetries = cfg.Resource.MaxRetries
	}
	if cfg.Resource.CircuitBreakerThreshold > 0 {
		rc.CircuitBreakerThreshold = cfg.Resource.CircuitBreakerThreshold
	}
	if d, err := time.ParseDuration(cfg.Resource.DownloadTimeout); err == nil && d > 0 {
		rc.DownloadTimeout = d
	}
	if d, err := time.ParseDuration(cfg.Resource.CircuitBreakerCooldown); err == nil && d > 0 {
		rc.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.Resource.HealthCheckInterval); err == nil && d > 0 {
		rc.HealthCheckInterval = d
	}
	if cfg.Resource.CacheTTLHours > 0 {
		rc.CacheCleanupTTL = time.Duration(cfg.Resource.CacheTTLHours) * time.Hour
	}
	return rc
}

// loadConfig resolves and loads the config file, applying env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
