package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const stageColumns = "id, workflow_id, stage, status, retry_count, symbols_total, symbols_succeeded, symbols_failed, symbols_skipped, started_at, completed_at"

// EnsureStageExecution returns the stage execution for (workflow, stage),
// creating a pending row on first use. At most one row exists per pair.
func (s *Store) EnsureStageExecution(ctx context.Context, workflowID string, stage Stage) (*StageExecution, error) {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_executions (workflow_id, stage, status)
         VALUES (?, ?, ?)
         ON CONFLICT(workflow_id, stage) DO NOTHING`,
		workflowID,
		stage,
		StagePending,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure stage execution: %w", err)
	}
	return s.GetStageExecution(ctx, workflowID, stage)
}

// GetStageExecution fetches the stage execution for (workflow, stage), or nil.
func (s *Store) GetStageExecution(ctx context.Context, workflowID string, stage Stage) (*StageExecution, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_executions WHERE workflow_id = ? AND stage = ?`,
		workflowID,
		stage,
	)
	exec, err := scanStageExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage execution: %w", err)
	}
	return exec, nil
}

// ListStageExecutions returns all stage executions for a workflow in pipeline order.
func (s *Store) ListStageExecutions(ctx context.Context, workflowID string) ([]*StageExecution, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_executions WHERE workflow_id = ?`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	defer rows.Close()

	var execs []*StageExecution
	for rows.Next() {
		exec, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*StageExecution, 0, len(execs))
	for _, stage := range Stages() {
		for _, exec := range execs {
			if exec.Stage == stage {
				ordered = append(ordered, exec)
			}
		}
	}
	return ordered, nil
}

// UpdateStageExecution persists counters and status for a stage execution.
// Terminal rows are immutable; updating one is an error.
func (s *Store) UpdateStageExecution(ctx context.Context, exec *StageExecution) error {
	if exec == nil {
		return errors.New("stage execution is nil")
	}
	current, err := s.GetStageExecution(ctx, exec.WorkflowID, exec.Stage)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("stage execution %s/%s does not exist", exec.WorkflowID, exec.Stage)
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("stage execution %s/%s is terminal (%s)", exec.WorkflowID, exec.Stage, current.Status)
	}

	if exec.Status == StageRunning && exec.StartedAt == nil {
		now := time.Now().UTC()
		exec.StartedAt = &now
	}
	if exec.Status.IsTerminal() && exec.CompletedAt == nil {
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE stage_executions
         SET status = ?, retry_count = ?, symbols_total = ?, symbols_succeeded = ?,
             symbols_failed = ?, symbols_skipped = ?, started_at = ?, completed_at = ?
         WHERE workflow_id = ? AND stage = ?`,
		exec.Status,
		exec.RetryCount,
		exec.SymbolsTotal,
		exec.SymbolsSucceeded,
		exec.SymbolsFailed,
		exec.SymbolsSkipped,
		nullableTime(exec.StartedAt),
		nullableTime(exec.CompletedAt),
		exec.WorkflowID,
		exec.Stage,
	)
	if err != nil {
		return fmt.Errorf("update stage execution: %w", err)
	}
	return nil
}

func scanStageExecution(scanner interface{ Scan(dest ...any) error }) (*StageExecution, error) {
	var (
		id           int64
		workflowID   string
		stage        string
		status       string
		retryCount   int
		total        int
		succeeded    int
		failed       int
		skipped      int
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workflowID,
		&stage,
		&status,
		&retryCount,
		&total,
		&succeeded,
		&failed,
		&skipped,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	return &StageExecution{
		ID:               id,
		WorkflowID:       workflowID,
		Stage:            Stage(stage),
		Status:           StageStatus(status),
		RetryCount:       retryCount,
		SymbolsTotal:     total,
		SymbolsSucceeded: succeeded,
		SymbolsFailed:    failed,
		SymbolsSkipped:   skipped,
		StartedAt:        parseNullableTime(startedRaw),
		CompletedAt:      parseNullableTime(completedRaw),
	}, nil
}
