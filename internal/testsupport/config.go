package testsupport

import (
	"path/filepath"
	"testing"

	"quantpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timing knobs are shrunk so retry and timeout paths run in milliseconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.WorkerPoolSize = 4
	cfg.Workflow.ProcessorTimeout = 5
	cfg.Workflow.CheckpointInterval = 2
	cfg.Workflow.BackoffInitialMS = 1
	cfg.Workflow.BackoffMaxMS = 4

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithRetryBudgets overrides the per-category retry budgets.
func WithRetryBudgets(transient, computation int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.MaxTransientRetries = transient
		cfg.Workflow.MaxComputationRetries = computation
	}
}

// WithWorkerPoolSize overrides the stage worker pool size.
func WithWorkerPoolSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.WorkerPoolSize = size
	}
}

// WithCheckpointInterval overrides the checkpoint cadence.
func WithCheckpointInterval(interval int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.CheckpointInterval = interval
	}
}

// WithGates overrides the readiness-gate thresholds.
func WithGates(gates config.Gates) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Gates = gates
	}
}
