package runner

import (
	"sort"
	"sync"
	"time"

	"quantpipe/internal/checkpoint"
)

// progressTracker accumulates per-symbol outcomes for one stage run and
// decides when a checkpoint is due. Workers share it, so every method locks.
type progressTracker struct {
	mu sync.Mutex

	remaining map[string]struct{}
	succeeded int
	failed    int
	skipped   int
	retries   int

	sinceCheckpoint int
}

func newProgressTracker(symbols []string) *progressTracker {
	remaining := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		remaining[s] = struct{}{}
	}
	return &progressTracker{remaining: remaining}
}

// record registers one symbol outcome and reports whether it was terminal.
// Deferred symbols stay in the remaining set.
func (t *progressTracker) record(symbol string, outcome symbolOutcome, retries int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retries += retries
	if outcome == outcomeDeferred {
		return false
	}

	delete(t.remaining, symbol)
	switch outcome {
	case outcomeSucceeded:
		t.succeeded++
	case outcomeFailed:
		t.failed++
	case outcomeSkipped:
		t.skipped++
	}
	t.sinceCheckpoint++
	return true
}

// checkpointDue reports whether enough terminal outcomes accumulated since
// the last checkpoint, and resets the counter when they did.
func (t *progressTracker) checkpointDue(interval int) bool {
	if interval <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sinceCheckpoint < interval {
		return false
	}
	t.sinceCheckpoint = 0
	return true
}

func (t *progressTracker) totals() (succeeded, failed, skipped, retries int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded, t.failed, t.skipped, t.retries
}

func (t *progressTracker) remainingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.remaining)
}

func (t *progressTracker) snapshot() checkpoint.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := make([]string, 0, len(t.remaining))
	for s := range t.remaining {
		remaining = append(remaining, s)
	}
	sort.Strings(remaining)

	return checkpoint.Snapshot{
		Remaining: remaining,
		Succeeded: t.succeeded,
		Failed:    t.failed,
		Skipped:   t.skipped,
		TakenAt:   time.Now().UTC(),
	}
}
