package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const gateColumns = "id, workflow_id, stage, symbol, gate_name, passed, reason, action, created_at"

// RecordGateResult appends one gate-check audit row.
func (s *Store) RecordGateResult(ctx context.Context, result *GateResult) error {
	if result == nil {
		return errors.New("gate result is nil")
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO gate_results (workflow_id, stage, symbol, gate_name, passed, reason, action, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.WorkflowID,
		result.Stage,
		result.Symbol,
		result.GateName,
		boolToInt(result.Passed),
		nullableString(result.Reason),
		result.Action,
		timestamp(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("record gate result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

// ListGateResults returns the gate audit trail for a workflow, optionally
// narrowed to one stage, oldest first.
func (s *Store) ListGateResults(ctx context.Context, workflowID string, stage Stage) ([]*GateResult, error) {
	query := `SELECT ` + gateColumns + ` FROM gate_results WHERE workflow_id = ?`
	args := []any{workflowID}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gate results: %w", err)
	}
	defer rows.Close()

	var results []*GateResult
	for rows.Next() {
		result, err := scanGateResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanGateResult(scanner interface{ Scan(dest ...any) error }) (*GateResult, error) {
	var (
		id         int64
		workflowID string
		stage      string
		symbol     string
		gateName   string
		passed     int
		reason     sql.NullString
		action     string
		createdRaw string
	)

	if err := scanner.Scan(
		&id,
		&workflowID,
		&stage,
		&symbol,
		&gateName,
		&passed,
		&reason,
		&action,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	result := &GateResult{
		ID:         id,
		WorkflowID: workflowID,
		Stage:      Stage(stage),
		Symbol:     symbol,
		GateName:   gateName,
		Passed:     passed != 0,
		Reason:     reason.String,
		Action:     GateAction(action),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		result.CreatedAt = created
	}
	return result, nil
}
