// Package workflow coordinates pipeline runs: it owns the workflow
// lifecycle, drives each stage through the runner in pipeline order, and
// exposes the pause, resume, cancel, and recovery operations.
//
// The coordinator holds an exclusive file lock on the data directory so at
// most one engine process mutates a given state database.
package workflow
