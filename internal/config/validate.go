package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects configuration values the engine cannot operate with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if c.Workflow.WorkerPoolSize < 1 {
		problems = append(problems, fmt.Sprintf("workflow.worker_pool_size must be at least 1 (got %d)", c.Workflow.WorkerPoolSize))
	}
	if c.Workflow.ProcessorTimeout < 1 {
		problems = append(problems, fmt.Sprintf("workflow.processor_timeout must be at least 1 second (got %d)", c.Workflow.ProcessorTimeout))
	}
	if c.Workflow.CheckpointInterval < 1 {
		problems = append(problems, fmt.Sprintf("workflow.checkpoint_interval must be at least 1 (got %d)", c.Workflow.CheckpointInterval))
	}
	if c.Workflow.MaxTransientRetries < 0 {
		problems = append(problems, "workflow.max_transient_retries must not be negative")
	}
	if c.Workflow.MaxComputationRetries < 0 {
		problems = append(problems, "workflow.max_computation_retries must not be negative")
	}
	if c.Workflow.BackoffInitialMS < 1 {
		problems = append(problems, "workflow.backoff_initial_ms must be at least 1")
	}
	if c.Workflow.BackoffMaxMS < c.Workflow.BackoffInitialMS {
		problems = append(problems, "workflow.backoff_max_ms must not be below workflow.backoff_initial_ms")
	}
	if c.Gates.MinBarCount < 0 {
		problems = append(problems, "gates.min_bar_count must not be negative")
	}
	if c.Gates.MinValidationQuality < 0 || c.Gates.MinValidationQuality > 1 {
		problems = append(problems, "gates.min_validation_quality must be between 0 and 1")
	}
	if c.Gates.MinSignalQuality < 0 || c.Gates.MinSignalQuality > 1 {
		problems = append(problems, "gates.min_signal_quality must be between 0 and 1")
	}
	if c.Gates.MinScoringQuality < 0 || c.Gates.MinScoringQuality > 1 {
		problems = append(problems, "gates.min_scoring_quality must be between 0 and 1")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json (got %q)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
