package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quantpipe/internal/state"
)

// Sentinel markers processors wrap their failures with so the engine can
// classify them for retry and escalation decisions.
var (
	ErrTransient      = errors.New("transient failure")
	ErrComputation    = errors.New("computation failure")
	ErrValidation     = errors.New("validation failure")
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; a nil marker defaults to ErrComputation.
func Wrap(marker error, stg state.Stage, operation, message string, err error) error {
	detail := buildDetail(stg, operation, message)
	if marker == nil {
		marker = ErrComputation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// CategoryOf maps a processor error to the persisted error category.
// Deadline expiry counts as transient; unmarked errors count as computation.
func CategoryOf(err error) state.ErrorCategory {
	switch {
	case errors.Is(err, ErrInfrastructure):
		return state.CategoryInfrastructure
	case errors.Is(err, ErrValidation):
		return state.CategoryValidation
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return state.CategoryTransient
	default:
		return state.CategoryComputation
	}
}

func buildDetail(stg state.Stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stg != "" {
		parts = append(parts, string(stg))
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "processor failure"
	}
	return strings.Join(parts, ": ")
}
