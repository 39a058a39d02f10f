package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ForkWidth != 5 {
		t.Fatalf("default fork width = %d, want 5", cfg.ForkWidth)
	}
	if !cfg.StrictTemplates {
		t.Fatal("strict templates should default on")
	}
	if cfg.TaskTimeout() != 0 {
		t.Fatal("no default task timeout expected")
	}
	if cfg.FactCacheTTL() != time.Hour {
		t.Fatalf("fact cache ttl = %v, want 1h", cfg.FactCacheTTL())
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conclave.toml")
	body := `
fork_width = 20
task_timeout_seconds = 30
module_paths = ["/opt/modules"]
default_collection = "acme.infra"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ForkWidth != 20 {
		t.Fatalf("fork width = %d", cfg.ForkWidth)
	}
	if cfg.TaskTimeout() != 30*time.Second {
		t.Fatalf("task timeout = %v", cfg.TaskTimeout())
	}
	if len(cfg.ModulePaths) != 1 || cfg.ModulePaths[0] != "/opt/modules" {
		t.Fatalf("module paths = %v", cfg.ModulePaths)
	}
	if cfg.DefaultCollection != "acme.infra" {
		t.Fatalf("default collection = %q", cfg.DefaultCollection)
	}
	// Untouched keys keep their defaults.
	if !cfg.StrictTemplates {
		t.Fatal("strict templates default lost on partial file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ForkWidth != 5 {
		t.Fatalf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestApplyEnvSearchPaths(t *testing.T) {
	t.Setenv("ANSIBLE_LIBRARY", "/a/modules:/b/modules")
	t.Setenv("ANSIBLE_COLLECTIONS_PATH", "/a/collections")
	t.Setenv("CONCLAVE_FORKS", "12")
	t.Setenv("ANSIBLE_VERBOSITY", "2")

	cfg := Default()
	cfg.ModulePaths = []string{"/configured"}
	cfg = ApplyEnv(cfg)

	if len(cfg.ModulePaths) != 3 || cfg.ModulePaths[0] != "/a/modules" || cfg.ModulePaths[2] != "/configured" {
		t.Fatalf("module paths = %v, want env entries first", cfg.ModulePaths)
	}
	if len(cfg.CollectionPaths) != 1 || cfg.CollectionPaths[0] != "/a/collections" {
		t.Fatalf("collection paths = %v", cfg.CollectionPaths)
	}
	if cfg.ForkWidth != 12 {
		t.Fatalf("fork width = %d", cfg.ForkWidth)
	}
	if cfg.Verbosity != 2 {
		t.Fatalf("verbosity = %d", cfg.Verbosity)
	}
}

func TestApplyEnvIgnoresBadNumbers(t *testing.T) {
	t.Setenv("CONCLAVE_FORKS", "many")
	cfg := ApplyEnv(Default())
	if cfg.ForkWidth != 5 {
		t.Fatalf("bad CONCLAVE_FORKS should keep default, got %d", cfg.ForkWidth)
	}
}
