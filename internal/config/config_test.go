package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("missing file should report exists=false")
	}
	if cfg.Workflow.WorkerPoolSize != defaultWorkerPoolSize {
		t.Fatalf("worker pool = %d, want default %d", cfg.Workflow.WorkerPoolSize, defaultWorkerPoolSize)
	}
	if cfg.Gates.MinBarCount != defaultMinBarCount {
		t.Fatalf("min bar count = %d, want default %d", cfg.Gates.MinBarCount, defaultMinBarCount)
	}
}

func TestLoadOverridesAndExpandsPaths(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	body := fmt.Sprintf(`
[paths]
data_dir = %q
log_dir = %q

[workflow]
worker_pool_size = 4
max_transient_retries = 5

[gates]
min_bar_count = 100

[logging]
level = "DEBUG"
format = "JSON"
`, filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %s exists = %v", resolved, exists)
	}
	if cfg.Workflow.WorkerPoolSize != 4 || cfg.Workflow.MaxTransientRetries != 5 {
		t.Fatalf("workflow overrides not applied: %+v", cfg.Workflow)
	}
	if cfg.Gates.MinBarCount != 100 {
		t.Fatalf("gate override not applied: %+v", cfg.Gates)
	}
	// Untouched values keep their defaults.
	if cfg.Workflow.ProcessorTimeout != defaultProcessorTimeout {
		t.Fatalf("processor timeout = %d, want default", cfg.Workflow.ProcessorTimeout)
	}
	// Logging values are normalized to lower case.
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data dir not absolute: %s", cfg.Paths.DataDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[workflow]
worker_pool_size = 0
backoff_initial_ms = 1000
backoff_max_ms = 10
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"worker_pool_size", "backoff_max_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/var/lib/quantpipe"
	if got := cfg.DatabasePath(); got != "/var/lib/quantpipe/quantpipe.db" {
		t.Fatalf("database path = %s", got)
	}
	if got := cfg.LockPath(); got != "/var/lib/quantpipe/engine.lock" {
		t.Fatalf("lock path = %s", got)
	}
}

func TestCreateSampleRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	if err := CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[workflow]") {
		t.Fatal("sample config missing workflow section")
	}
	if err := CreateSample(target); err == nil {
		t.Fatal("expected second CreateSample to fail")
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := ExpandPath("~/quantpipe")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(home, "quantpipe") {
		t.Fatalf("expanded = %s", got)
	}
}
