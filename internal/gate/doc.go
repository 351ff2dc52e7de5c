// Package gate decides whether a symbol's stage output is admissible for the
// next pipeline stage. Verdicts are deterministic functions of the reported
// readiness metrics and the configured thresholds; the evaluator holds no
// pipeline state.
package gate
