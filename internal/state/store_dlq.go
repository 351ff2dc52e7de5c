package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDLQEntryNotFound indicates a lookup for an unknown dead-letter entry.
var ErrDLQEntryNotFound = errors.New("dlq entry not found")

const dlqColumns = "id, workflow_id, symbol, stage, error_message, error_category, context_json, retry_count, resolved, resolved_by, resolved_at, created_at, updated_at"

// DLQFilter narrows dead-letter listings.
type DLQFilter struct {
	WorkflowID string
	Resolved   *bool
}

// UpsertDLQEntry escalates a unit of work. Escalation is idempotent per
// (workflow, symbol, stage): re-escalating refreshes the error, context, and
// retry count of the existing row without duplicating it or touching its
// resolution fields.
func (s *Store) UpsertDLQEntry(ctx context.Context, entry *DLQEntry) (*DLQEntry, error) {
	if entry == nil {
		return nil, errors.New("dlq entry is nil")
	}
	now := time.Now().UTC()

	var contextJSON any
	if len(entry.Context) > 0 {
		contextJSON = string(entry.Context)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dlq_entries (
            workflow_id, symbol, stage, error_message, error_category,
            context_json, retry_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(workflow_id, symbol, stage) DO UPDATE SET
            error_message = excluded.error_message,
            error_category = excluded.error_category,
            context_json = excluded.context_json,
            retry_count = excluded.retry_count,
            updated_at = excluded.updated_at`,
		entry.WorkflowID,
		entry.Symbol,
		entry.Stage,
		entry.ErrorMessage,
		entry.ErrorCategory,
		contextJSON,
		entry.RetryCount,
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert dlq entry: %w", err)
	}

	return s.getDLQByUnit(ctx, entry.WorkflowID, entry.Symbol, entry.Stage)
}

// GetDLQEntry fetches a dead-letter entry by identifier.
func (s *Store) GetDLQEntry(ctx context.Context, id int64) (*DLQEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dlqColumns+` FROM dlq_entries WHERE id = ?`, id)
	entry, err := scanDLQEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrDLQEntryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry: %w", err)
	}
	return entry, nil
}

// ListDLQEntries returns dead-letter entries matching the filter, oldest first.
func (s *Store) ListDLQEntries(ctx context.Context, filter DLQFilter) ([]*DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dlq_entries`
	var clauses []string
	var args []any
	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Resolved != nil {
		clauses = append(clauses, "resolved = ?")
		args = append(args, boolToInt(*filter.Resolved))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResolveDLQEntry marks an entry reviewed. Resolution never deletes the row
// and never changes the owning symbol state.
func (s *Store) ResolveDLQEntry(ctx context.Context, id int64, resolvedBy string) (*DLQEntry, error) {
	if resolvedBy == "" {
		return nil, errors.New("resolver identity must not be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dlq_entries SET resolved = 1, resolved_by = ?, resolved_at = ?, updated_at = ?
         WHERE id = ? AND resolved = 0`,
		resolvedBy,
		timestamp(now),
		timestamp(now),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve dlq entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		entry, getErr := s.GetDLQEntry(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("dlq entry %d already resolved by %s", id, entry.ResolvedBy)
	}
	return s.GetDLQEntry(ctx, id)
}

func (s *Store) getDLQByUnit(ctx context.Context, workflowID, symbol string, stage Stage) (*DLQEntry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+dlqColumns+` FROM dlq_entries WHERE workflow_id = ? AND symbol = ? AND stage = ?`,
		workflowID,
		symbol,
		stage,
	)
	entry, err := scanDLQEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrDLQEntryNotFound, workflowID, symbol, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry: %w", err)
	}
	return entry, nil
}

func scanDLQEntry(scanner interface{ Scan(dest ...any) error }) (*DLQEntry, error) {
	var (
		id          int64
		workflowID  string
		symbol      string
		stage       string
		errMsg      string
		category    string
		contextRaw  sql.NullString
		retryCount  int
		resolved    int
		resolvedBy  sql.NullString
		resolvedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
	)

	if err := scanner.Scan(
		&id,
		&workflowID,
		&symbol,
		&stage,
		&errMsg,
		&category,
		&contextRaw,
		&retryCount,
		&resolved,
		&resolvedBy,
		&resolvedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &DLQEntry{
		ID:            id,
		WorkflowID:    workflowID,
		Symbol:        symbol,
		Stage:         Stage(stage),
		ErrorMessage:  errMsg,
		ErrorCategory: ErrorCategory(category),
		RetryCount:    retryCount,
		Resolved:      resolved != 0,
		ResolvedBy:    resolvedBy.String,
		ResolvedAt:    parseNullableTime(resolvedRaw),
	}
	if contextRaw.Valid && contextRaw.String != "" {
		entry.Context = []byte(contextRaw.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}
