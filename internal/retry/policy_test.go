package retry

import (
	"testing"
	"time"

	"quantpipe/internal/config"
	"quantpipe/internal/state"
)

func testPolicy() *Policy {
	return NewPolicy(config.Workflow{
		MaxTransientRetries:   2,
		MaxComputationRetries: 1,
		BackoffInitialMS:      100,
		BackoffMaxMS:          400,
	})
}

func TestDecideTransientBudget(t *testing.T) {
	p := testPolicy()

	if d := p.Decide(state.CategoryTransient, 0); !d.Retry {
		t.Fatal("first transient failure should retry")
	}
	if d := p.Decide(state.CategoryTransient, 1); !d.Retry {
		t.Fatal("second transient failure should retry")
	}
	if d := p.Decide(state.CategoryTransient, 2); d.Retry {
		t.Fatal("transient budget of 2 must stop the third retry")
	}
}

func TestDecideGateFailedSharesTransientBudget(t *testing.T) {
	p := testPolicy()

	if d := p.Decide(state.CategoryGateFailed, 1); !d.Retry {
		t.Fatal("gate failure within budget should retry")
	}
	if d := p.Decide(state.CategoryGateFailed, 2); d.Retry {
		t.Fatal("gate failure past budget must not retry")
	}
}

func TestDecideComputationBudget(t *testing.T) {
	p := testPolicy()

	if d := p.Decide(state.CategoryComputation, 0); !d.Retry {
		t.Fatal("first computation failure should retry")
	}
	if d := p.Decide(state.CategoryComputation, 1); d.Retry {
		t.Fatal("computation budget of 1 must stop the second retry")
	}
}

func TestDecideNeverRetriesValidationOrInfrastructure(t *testing.T) {
	p := testPolicy()

	for _, category := range []state.ErrorCategory{state.CategoryValidation, state.CategoryInfrastructure} {
		if d := p.Decide(category, 0); d.Retry {
			t.Fatalf("category %s must never retry", category)
		}
	}
}

func TestComputationBackoffDoublesAndCaps(t *testing.T) {
	p := testPolicy()

	steps := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 400 * time.Millisecond}, // capped
	}
	for _, step := range steps {
		if got := p.exponentialBackoff(step.attempt); got != step.want {
			t.Fatalf("attempt %d backoff = %s, want %s", step.attempt, got, step.want)
		}
	}
}

func TestTransientBackoffIsJitteredWithinEnvelope(t *testing.T) {
	p := testPolicy()

	for i := 0; i < 100; i++ {
		d := p.Decide(state.CategoryTransient, 1)
		if !d.Retry {
			t.Fatal("expected retry")
		}
		if d.Backoff < 0 || d.Backoff > 200*time.Millisecond {
			t.Fatalf("jittered backoff %s outside [0, 200ms]", d.Backoff)
		}
	}
}
