// Package checkpoint persists resumable snapshots of in-flight stage
// progress. Checkpoints are a fast-resume optimization only; the symbol
// state table remains the authoritative record, so recovery is correct even
// when no checkpoint exists.
package checkpoint
