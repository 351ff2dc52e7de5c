package state

import (
	"encoding/json"
	"strings"
	"time"
)

// Stage identifies one of the six fixed pipeline phases.
type Stage string

const (
	StageIngestion  Stage = "ingestion"
	StageValidation Stage = "validation"
	StageIndicators Stage = "indicators"
	StageSignals    Stage = "signals"
	StageScoring    Stage = "scoring"
	StageCaching    Stage = "caching"
)

var stageOrder = []Stage{
	StageIngestion,
	StageValidation,
	StageIndicators,
	StageSignals,
	StageScoring,
	StageCaching,
}

// Stages returns the fixed pipeline order.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range stageOrder {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// StageIndex returns the position of a stage in the pipeline order, or -1.
func StageIndex(stage Stage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// StagesFrom returns the pipeline suffix starting at the given stage.
func StagesFrom(stage Stage) []Stage {
	idx := StageIndex(stage)
	if idx < 0 {
		return nil
	}
	cp := make([]Stage, len(stageOrder)-idx)
	copy(cp, stageOrder[idx:])
	return cp
}

// RunKind describes why a workflow execution was started.
type RunKind string

const (
	RunDailyBatch RunKind = "daily_batch"
	RunOnDemand   RunKind = "on_demand"
	RunRecovery   RunKind = "recovery"
	RunManual     RunKind = "manual"
)

// ParseRunKind converts a string into a known RunKind.
func ParseRunKind(value string) (RunKind, bool) {
	normalized := RunKind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case RunDailyBatch, RunOnDemand, RunRecovery, RunManual:
		return normalized, true
	}
	return "", false
}

// WorkflowStatus represents the lifecycle of a workflow execution.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowPending: {WorkflowRunning, WorkflowCancelled},
	WorkflowRunning: {WorkflowPaused, WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
	WorkflowPaused:  {WorkflowRunning, WorkflowCancelled},
}

// CanTransition reports whether a workflow may move from one status to another.
// The lifecycle is monotonic along pending, running, and the terminal states;
// paused is re-entrant to running.
func CanTransition(from, to WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StageStatus represents the lifecycle of one stage within one workflow.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// IsTerminal reports whether the stage execution is finished.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// SymbolStatus represents the lifecycle of one (workflow, symbol, stage) unit.
type SymbolStatus string

const (
	SymbolPending   SymbolStatus = "pending"
	SymbolRunning   SymbolStatus = "running"
	SymbolRetrying  SymbolStatus = "retrying"
	SymbolCompleted SymbolStatus = "completed"
	SymbolFailed    SymbolStatus = "failed"
	SymbolSkipped   SymbolStatus = "skipped"
)

// IsTerminal reports whether the unit has reached its final outcome for this run.
func (s SymbolStatus) IsTerminal() bool {
	switch s {
	case SymbolCompleted, SymbolFailed, SymbolSkipped:
		return true
	}
	return false
}

// ErrorCategory classifies a unit failure for retry and escalation decisions.
type ErrorCategory string

const (
	CategoryTransient      ErrorCategory = "transient"
	CategoryComputation    ErrorCategory = "computation"
	CategoryValidation     ErrorCategory = "validation"
	CategoryGateFailed     ErrorCategory = "gate_failed"
	CategoryInfrastructure ErrorCategory = "infrastructure"
)

// GateAction is the recommended action attached to a gate verdict.
type GateAction string

const (
	ActionRetry          GateAction = "RETRY"
	ActionFixDataQuality GateAction = "FIX_DATA_QUALITY"
	ActionSkip           GateAction = "SKIP"
)

// WorkflowMetadata is the structured scope blob stored with each workflow.
type WorkflowMetadata struct {
	Symbols []string `json:"symbols"`
	Stages  []Stage  `json:"stages"`
}

// Workflow is one pipeline run. Retained indefinitely for audit.
type Workflow struct {
	ID               string
	RunKind          RunKind
	Status           WorkflowStatus
	CurrentStage     Stage
	ErrorMessage     string
	SourceWorkflowID string
	Metadata         WorkflowMetadata
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StagePlan returns the stage sequence this workflow runs, defaulting to the
// full pipeline when no subset was requested.
func (w *Workflow) StagePlan() []Stage {
	if len(w.Metadata.Stages) == 0 {
		return Stages()
	}
	cp := make([]Stage, len(w.Metadata.Stages))
	copy(cp, w.Metadata.Stages)
	return cp
}

// StageExecution is one stage within one workflow run. Immutable once terminal.
type StageExecution struct {
	ID               int64
	WorkflowID       string
	Stage            Stage
	Status           StageStatus
	RetryCount       int
	SymbolsTotal     int
	SymbolsSucceeded int
	SymbolsFailed    int
	SymbolsSkipped   int
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// SymbolState is the finest-grained unit of work: one (workflow, symbol, stage).
type SymbolState struct {
	ID           int64
	WorkflowID   string
	Symbol       string
	Stage        Stage
	Status       SymbolStatus
	ErrorMessage string
	RetryCount   int
	Output       json.RawMessage
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Checkpoint is an append-only snapshot of in-flight stage progress.
type Checkpoint struct {
	ID         int64
	WorkflowID string
	Stage      Stage
	Snapshot   json.RawMessage
	CreatedAt  time.Time
}

// DLQEntry records a unit that could not complete automatically.
type DLQEntry struct {
	ID            int64
	WorkflowID    string
	Symbol        string
	Stage         Stage
	ErrorMessage  string
	ErrorCategory ErrorCategory
	Context       json.RawMessage
	RetryCount    int
	Resolved      bool
	ResolvedBy    string
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GateResult is one append-only audit row of a readiness-gate check.
type GateResult struct {
	ID         int64
	WorkflowID string
	Stage      Stage
	Symbol     string
	GateName   string
	Passed     bool
	Reason     string
	Action     GateAction
	CreatedAt  time.Time
}

// SymbolCounts aggregates symbol states by status for one (workflow, stage).
type SymbolCounts struct {
	Total     int
	Pending   int
	Running   int
	Retrying  int
	Completed int
	Failed    int
	Skipped   int
}

// Terminal returns the number of symbols with a terminal outcome.
func (c SymbolCounts) Terminal() int {
	return c.Completed + c.Failed + c.Skipped
}
