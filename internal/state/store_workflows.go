package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates a workflow status change that the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid workflow status transition")

// ErrWorkflowNotFound indicates a lookup for an unknown workflow id.
var ErrWorkflowNotFound = errors.New("workflow not found")

const workflowColumns = "id, run_kind, status, current_stage, error_message, source_workflow_id, metadata_json, started_at, completed_at, created_at, updated_at"

// CreateWorkflow inserts a new workflow execution in pending status.
func (s *Store) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return errors.New("workflow is nil")
	}
	if wf.ID == "" {
		return errors.New("workflow id must not be empty")
	}
	now := time.Now().UTC()
	wf.Status = WorkflowPending
	wf.CreatedAt = now
	wf.UpdatedAt = now

	metadataJSON, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal workflow metadata: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO workflows (
            id, run_kind, status, current_stage, error_message,
            source_workflow_id, metadata_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID,
		wf.RunKind,
		wf.Status,
		nullableString(string(wf.CurrentStage)),
		nullableString(wf.ErrorMessage),
		nullableString(wf.SourceWorkflowID),
		string(metadataJSON),
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow fetches a workflow by identifier. Returns ErrWorkflowNotFound
// when the id is unknown.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns workflows filtered by status set (or all when no
// status is provided), newest first.
func (s *Store) ListWorkflows(ctx context.Context, statuses ...WorkflowStatus) ([]*Workflow, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + workflowColumns + ` FROM workflows`
	orderClause := ` ORDER BY created_at DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// TransitionWorkflow moves a workflow to a new status, enforcing the
// lifecycle rules. The update is conditional on the stored status so
// concurrent transitions cannot race past the guard.
func (s *Store) TransitionWorkflow(ctx context.Context, id string, to WorkflowStatus) (*Workflow, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(wf.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wf.Status, to)
	}

	now := time.Now().UTC()
	var startedAt, completedAt any
	startedAt = nullableTime(wf.StartedAt)
	completedAt = nullableTime(wf.CompletedAt)
	if to == WorkflowRunning && wf.StartedAt == nil {
		startedAt = timestamp(now)
	}
	if to.IsTerminal() {
		completedAt = timestamp(now)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflows SET status = ?, started_at = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		to,
		startedAt,
		completedAt,
		timestamp(now),
		id,
		wf.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("transition workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: workflow %s changed concurrently", ErrInvalidTransition, id)
	}
	return s.GetWorkflow(ctx, id)
}

// SetCurrentStage records which stage the workflow is working on.
func (s *Store) SetCurrentStage(ctx context.Context, id string, stage Stage) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE workflows SET current_stage = ?, updated_at = ? WHERE id = ?`,
		string(stage),
		timestamp(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set current stage: %w", err)
	}
	return nil
}

// SetWorkflowError records the error summary for a failed workflow.
func (s *Store) SetWorkflowError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE workflows SET error_message = ?, updated_at = ? WHERE id = ?`,
		nullableString(message),
		timestamp(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set workflow error: %w", err)
	}
	return nil
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*Workflow, error) {
	var (
		id           string
		runKind      string
		status       string
		currentStage sql.NullString
		errorMessage sql.NullString
		sourceID     sql.NullString
		metadataRaw  sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&runKind,
		&status,
		&currentStage,
		&errorMessage,
		&sourceID,
		&metadataRaw,
		&startedRaw,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:               id,
		RunKind:          RunKind(runKind),
		Status:           WorkflowStatus(status),
		CurrentStage:     Stage(currentStage.String),
		ErrorMessage:     errorMessage.String,
		SourceWorkflowID: sourceID.String,
		StartedAt:        parseNullableTime(startedRaw),
		CompletedAt:      parseNullableTime(completedRaw),
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &wf.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		wf.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		wf.UpdatedAt = updated
	}
	return wf, nil
}
