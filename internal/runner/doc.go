// Package runner executes one pipeline stage across a symbol set with a
// bounded worker pool, coordinating the retry policy, gate evaluator,
// checkpoint manager, and dead-letter queue.
//
// Per-symbol failures are fully contained here and never abort the stage;
// only infrastructure faults (the processor or store is unreachable)
// propagate to the coordinator.
package runner
