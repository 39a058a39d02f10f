// Package config loads run configuration the same way the rest of the
// system's settings layer works: hardcoded defaults, overridden by an
// optional TOML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the run-level configuration surface the engine consumes.
type Config struct {
	ForkWidth             int      `toml:"fork_width"`
	TaskTimeoutSeconds    int      `toml:"task_timeout_seconds"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
	FactCacheTTLSeconds   int      `toml:"fact_cache_ttl_seconds"`
	ModulePaths           []string `toml:"module_paths"`
	CollectionPaths       []string `toml:"collection_paths"`
	RolesPath             []string `toml:"roles_path"`
	DefaultCollection     string   `toml:"default_collection"`
	StrictTemplates       bool     `toml:"strict_templates"`
	Verbosity             int      `toml:"verbosity"`
}

// Default returns the built-in configuration: fork width 5,
// strict template undefined handling, facts cached for the
// run's practical lifetime.
func Default() Config {
	return Config{
		ForkWidth:           5,
		FactCacheTTLSeconds: 3600,
		RolesPath:           []string{"roles"},
		StrictTemplates:     true,
	}
}

// TaskTimeout converts the configured seconds to a Duration; zero means
// no per-task deadline.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// ConnectTimeout converts the configured seconds to a Duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// FactCacheTTL converts the configured seconds to a Duration.
func (c Config) FactCacheTTL() time.Duration {
	return time.Duration(c.FactCacheTTLSeconds) * time.Second
}

// Load reads a TOML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and silently falls back to the
// defaults otherwise; parse errors on an existing file still surface.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return Default(), nil
	}
	return Load(path)
}

// ApplyEnv layers recognized environment variables over cfg:
// ANSIBLE_LIBRARY and ANSIBLE_COLLECTIONS_PATH are colon-separated search
// paths appended ahead of the configured ones; ANSIBLE_VERBOSITY and
// CONCLAVE_FORKS override their numeric settings.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("ANSIBLE_LIBRARY"); v != "" {
		cfg.ModulePaths = append(splitPathList(v), cfg.ModulePaths...)
	}
	if v := os.Getenv("ANSIBLE_COLLECTIONS_PATH"); v != "" {
		cfg.CollectionPaths = append(splitPathList(v), cfg.CollectionPaths...)
	}
	if v := os.Getenv("ANSIBLE_VERBOSITY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Verbosity = n
		}
	}
	if v := os.Getenv("CONCLAVE_FORKS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.ForkWidth = n
		}
	}
	return cfg
}

func splitPathList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, string(os.PathListSeparator)) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}
