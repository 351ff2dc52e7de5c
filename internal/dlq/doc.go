// Package dlq manages the dead-letter queue: units of work that exhausted
// their retry budget or failed irrecoverably and now await manual review.
package dlq
