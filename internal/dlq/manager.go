package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"quantpipe/internal/logging"
	"quantpipe/internal/state"
)

// Escalation describes one unit of work being routed to the dead-letter queue.
type Escalation struct {
	WorkflowID string
	Symbol     string
	Stage      state.Stage
	Category   state.ErrorCategory
	Message    string
	// Context is arbitrary diagnostic material for the reviewing operator.
	Context any
	// RetryCount is the symbol's attempt counter at escalation time.
	RetryCount int
}

// Manager records and resolves dead-letter entries.
type Manager struct {
	store  *state.Store
	logger *slog.Logger
}

// NewManager constructs a DLQ manager.
func NewManager(store *state.Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logging.WithComponent(logger, "dlq")}
}

// Escalate records a unit that could not complete automatically. Escalation
// is idempotent per (workflow, symbol, stage): a repeat refreshes the
// existing entry instead of duplicating it.
func (m *Manager) Escalate(ctx context.Context, esc Escalation) (*state.DLQEntry, error) {
	var contextJSON json.RawMessage
	if esc.Context != nil {
		payload, err := json.Marshal(esc.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal dlq context: %w", err)
		}
		contextJSON = payload
	}

	entry, err := m.store.UpsertDLQEntry(ctx, &state.DLQEntry{
		WorkflowID:    esc.WorkflowID,
		Symbol:        esc.Symbol,
		Stage:         esc.Stage,
		ErrorMessage:  esc.Message,
		ErrorCategory: esc.Category,
		Context:       contextJSON,
		RetryCount:    esc.RetryCount,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Warn("unit escalated to dead-letter queue",
		logging.String(logging.FieldWorkflowID, esc.WorkflowID),
		logging.String(logging.FieldSymbol, esc.Symbol),
		logging.String(logging.FieldStage, string(esc.Stage)),
		logging.String(logging.FieldCategory, string(esc.Category)),
		logging.Int("retry_count", esc.RetryCount),
		logging.String(logging.FieldEventType, "dlq_escalated"),
	)
	return entry, nil
}

// List returns entries matching the filter.
func (m *Manager) List(ctx context.Context, filter state.DLQFilter) ([]*state.DLQEntry, error) {
	return m.store.ListDLQEntries(ctx, filter)
}

// Resolve marks an entry reviewed by the named operator. The owning symbol
// state keeps its terminal status for this run; resolution only flags the
// record for possible re-inclusion in a future recovery run.
func (m *Manager) Resolve(ctx context.Context, id int64, resolvedBy string) (*state.DLQEntry, error) {
	entry, err := m.store.ResolveDLQEntry(ctx, id, resolvedBy)
	if err != nil {
		return nil, err
	}
	m.logger.Info("dlq entry resolved",
		logging.Int64("dlq_id", id),
		logging.String("resolved_by", resolvedBy),
		logging.String(logging.FieldWorkflowID, entry.WorkflowID),
		logging.String(logging.FieldSymbol, entry.Symbol),
		logging.String(logging.FieldEventType, "dlq_resolved"),
	)
	return entry, nil
}
