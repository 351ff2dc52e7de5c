// Package state persists workflow orchestration records in SQLite.
//
// Six record types are stored: workflow executions, stage executions,
// per-symbol states, checkpoints, dead-letter entries, and gate results.
// Symbol states are the authoritative source of per-unit progress; the
// uniqueness constraint on (workflow, symbol, stage) is the engine's sole
// concurrency-safety mechanism during a stage.
package state
