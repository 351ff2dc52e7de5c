// Package config loads and validates quantpipe configuration from TOML.
//
// Defaults are compiled in; a config file overrides them. All orchestration
// thresholds (worker pool size, retry budgets, backoff bounds, checkpoint
// cadence, gate thresholds) live here and are injected into the components
// that need them.
package config
