// Package stage defines the contract between the orchestration engine and
// the six external stage processors, the typed readiness metrics each stage
// reports, and the error taxonomy the engine uses to classify failures.
//
// The engine never inspects the business semantics of a processor's output;
// it only routes readiness metrics to the gate evaluator and persists the
// output blob for the next stage.
package stage
