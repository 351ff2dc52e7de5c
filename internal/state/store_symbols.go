package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const symbolColumns = "id, workflow_id, symbol, stage, status, error_message, retry_count, output_json, started_at, completed_at, updated_at"

// EnsureSymbolState returns the state row for (workflow, symbol, stage),
// creating a pending row on first scheduling. The uniqueness constraint
// makes concurrent calls converge on one row.
func (s *Store) EnsureSymbolState(ctx context.Context, workflowID, symbol string, stage Stage) (*SymbolState, error) {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO symbol_states (workflow_id, symbol, stage, status, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(workflow_id, symbol, stage) DO NOTHING`,
		workflowID,
		symbol,
		stage,
		SymbolPending,
		timestamp(time.Now().UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure symbol state: %w", err)
	}
	return s.GetSymbolState(ctx, workflowID, symbol, stage)
}

// GetSymbolState fetches the state of one unit of work, or nil.
func (s *Store) GetSymbolState(ctx context.Context, workflowID, symbol string, stage Stage) (*SymbolState, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+symbolColumns+` FROM symbol_states WHERE workflow_id = ? AND symbol = ? AND stage = ?`,
		workflowID,
		symbol,
		stage,
	)
	st, err := scanSymbolState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get symbol state: %w", err)
	}
	return st, nil
}

// UpdateSymbolState persists changes to an existing unit of work.
func (s *Store) UpdateSymbolState(ctx context.Context, st *SymbolState) error {
	if st == nil {
		return errors.New("symbol state is nil")
	}
	st.UpdatedAt = time.Now().UTC()

	var output any
	if len(st.Output) > 0 {
		output = string(st.Output)
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE symbol_states
         SET status = ?, error_message = ?, retry_count = ?, output_json = ?,
             started_at = ?, completed_at = ?, updated_at = ?
         WHERE workflow_id = ? AND symbol = ? AND stage = ?`,
		st.Status,
		nullableString(st.ErrorMessage),
		st.RetryCount,
		output,
		nullableTime(st.StartedAt),
		nullableTime(st.CompletedAt),
		timestamp(st.UpdatedAt),
		st.WorkflowID,
		st.Symbol,
		st.Stage,
	)
	if err != nil {
		return fmt.Errorf("update symbol state: %w", err)
	}
	return nil
}

// ListSymbolStates returns all unit states for (workflow, stage) ordered by symbol.
func (s *Store) ListSymbolStates(ctx context.Context, workflowID string, stage Stage) ([]*SymbolState, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+symbolColumns+` FROM symbol_states WHERE workflow_id = ? AND stage = ? ORDER BY symbol`,
		workflowID,
		stage,
	)
	if err != nil {
		return nil, fmt.Errorf("list symbol states: %w", err)
	}
	defer rows.Close()

	var states []*SymbolState
	for rows.Next() {
		st, err := scanSymbolState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// CountSymbolStates aggregates unit states by status for (workflow, stage).
func (s *Store) CountSymbolStates(ctx context.Context, workflowID string, stage Stage) (SymbolCounts, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM symbol_states WHERE workflow_id = ? AND stage = ? GROUP BY status`,
		workflowID,
		stage,
	)
	if err != nil {
		return SymbolCounts{}, fmt.Errorf("count symbol states: %w", err)
	}
	defer rows.Close()

	var counts SymbolCounts
	for rows.Next() {
		var status SymbolStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return SymbolCounts{}, err
		}
		counts.Total += count
		switch status {
		case SymbolPending:
			counts.Pending += count
		case SymbolRunning:
			counts.Running += count
		case SymbolRetrying:
			counts.Retrying += count
		case SymbolCompleted:
			counts.Completed += count
		case SymbolFailed:
			counts.Failed += count
		case SymbolSkipped:
			counts.Skipped += count
		}
	}
	return counts, rows.Err()
}

// SkipNonTerminal marks every pending or retrying unit in (workflow, stage)
// skipped. Units currently running are left to reach their natural outcome.
func (s *Store) SkipNonTerminal(ctx context.Context, workflowID string, stage Stage, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE symbol_states
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE workflow_id = ? AND stage = ? AND status IN (?, ?)`,
		SymbolSkipped,
		nullableString(reason),
		timestamp(now),
		timestamp(now),
		workflowID,
		stage,
		SymbolPending,
		SymbolRetrying,
	)
	if err != nil {
		return 0, fmt.Errorf("skip non-terminal symbols: %w", err)
	}
	return res.RowsAffected()
}

// ResetRunningSymbols returns units left in running status by an interrupted
// process to pending so a re-entrant run attempts them again.
func (s *Store) ResetRunningSymbols(ctx context.Context, workflowID string, stage Stage) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE symbol_states SET status = ?, updated_at = ?
         WHERE workflow_id = ? AND stage = ? AND status = ?`,
		SymbolPending,
		timestamp(time.Now().UTC()),
		workflowID,
		stage,
		SymbolRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running symbols: %w", err)
	}
	return res.RowsAffected()
}

// PriorOutput returns the persisted output of the same symbol at an earlier
// stage, or nil when that stage produced none.
func (s *Store) PriorOutput(ctx context.Context, workflowID, symbol string, stage Stage) ([]byte, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT output_json FROM symbol_states WHERE workflow_id = ? AND symbol = ? AND stage = ?`,
		workflowID,
		symbol,
		stage,
	)
	var output sql.NullString
	if err := row.Scan(&output); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("prior output: %w", err)
	}
	if !output.Valid {
		return nil, nil
	}
	return []byte(output.String), nil
}

func scanSymbolState(scanner interface{ Scan(dest ...any) error }) (*SymbolState, error) {
	var (
		id           int64
		workflowID   string
		symbol       string
		stage        string
		status       string
		errorMessage sql.NullString
		retryCount   int
		outputRaw    sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&workflowID,
		&symbol,
		&stage,
		&status,
		&errorMessage,
		&retryCount,
		&outputRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	st := &SymbolState{
		ID:           id,
		WorkflowID:   workflowID,
		Symbol:       symbol,
		Stage:        Stage(stage),
		Status:       SymbolStatus(status),
		ErrorMessage: errorMessage.String,
		RetryCount:   retryCount,
		StartedAt:    parseNullableTime(startedRaw),
		CompletedAt:  parseNullableTime(completedRaw),
	}
	if outputRaw.Valid && outputRaw.String != "" {
		st.Output = []byte(outputRaw.String)
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		st.UpdatedAt = updated
	}
	return st, nil
}
