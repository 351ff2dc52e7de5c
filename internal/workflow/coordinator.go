package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"quantpipe/internal/checkpoint"
	"quantpipe/internal/config"
	"quantpipe/internal/dlq"
	"quantpipe/internal/gate"
	"quantpipe/internal/logging"
	"quantpipe/internal/retry"
	"quantpipe/internal/runner"
	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

// ErrEngineLocked indicates another engine process holds the run lock.
var ErrEngineLocked = errors.New("another engine instance is already running")

// ErrWorkflowNotActive indicates a control operation on a workflow this
// coordinator is not currently driving.
var ErrWorkflowNotActive = errors.New("workflow is not active")

// Coordinator owns workflow lifecycles and drives stages through the runner.
type Coordinator struct {
	cfg         *config.Config
	store       *state.Store
	processors  stage.ProcessorSet
	runner      *runner.Runner
	checkpoints *checkpoint.Manager
	deadLetters *dlq.Manager
	logger      *slog.Logger
	lock        *flock.Flock

	mu     sync.Mutex
	closed bool
	runs   map[string]*runHandle
}

type runIntent int

const (
	intentNone runIntent = iota
	intentPause
	intentCancel
)

// runHandle tracks one in-process workflow run.
type runHandle struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	intent runIntent
}

func (h *runHandle) request(intent runIntent) {
	h.mu.Lock()
	if h.intent == intentNone || intent == intentCancel {
		h.intent = intent
	}
	h.mu.Unlock()
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *runHandle) requested() runIntent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.intent
}

// New constructs a coordinator and takes the engine run lock. It fails with
// ErrEngineLocked when another process already holds it.
func New(cfg *config.Config, store *state.Store, processors stage.ProcessorSet, logger *slog.Logger) (*Coordinator, error) {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire engine lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrEngineLocked, cfg.LockPath())
	}

	coordLogger := logging.WithComponent(logger, "coordinator")
	deadLetters := dlq.NewManager(store, logger)
	checkpoints := checkpoint.NewManager(store)
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		processors:  processors,
		runner:      runner.New(cfg, store, gate.NewEvaluator(cfg.Gates), retry.NewPolicy(cfg.Workflow), deadLetters, checkpoints, logger),
		checkpoints: checkpoints,
		deadLetters: deadLetters,
		logger:      coordLogger,
		lock:        lock,
	}, nil
}

// DLQ exposes the dead-letter manager for operational tooling.
func (c *Coordinator) DLQ() *dlq.Manager {
	return c.deadLetters
}

// Close stops accepting new work, pauses active runs at the next stage
// scheduling boundary, waits for them to settle, and releases the run lock.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := make([]*runHandle, 0, len(c.runs))
	for _, handle := range c.runs {
		handles = append(handles, handle)
	}
	c.mu.Unlock()

	for _, handle := range handles {
		handle.request(intentPause)
	}
	for _, handle := range handles {
		<-handle.done
	}
	return c.lock.Unlock()
}

func (c *Coordinator) register(id string) (*runHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("coordinator is closed")
	}
	if c.runs == nil {
		c.runs = make(map[string]*runHandle)
	}
	if _, exists := c.runs[id]; exists {
		return nil, fmt.Errorf("workflow %s is already being driven", id)
	}
	handle := &runHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.runs[id] = handle
	return handle, nil
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	delete(c.runs, id)
	c.mu.Unlock()
}

func (c *Coordinator) handleFor(id string) *runHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id]
}

// Start creates a workflow for the given scope and begins driving it in the
// background. An empty stages slice requests the full pipeline.
func (c *Coordinator) Start(ctx context.Context, kind state.RunKind, symbols []string, stages []state.Stage) (*state.Workflow, error) {
	if len(symbols) == 0 {
		return nil, errors.New("workflow scope needs at least one symbol")
	}
	plan := stages
	if len(plan) == 0 {
		plan = state.Stages()
	}
	if err := c.processors.Validate(plan); err != nil {
		return nil, err
	}

	wf := &state.Workflow{
		ID:      uuid.NewString(),
		RunKind: kind,
		Metadata: state.WorkflowMetadata{
			Symbols: symbols,
			Stages:  stages,
		},
	}
	if err := c.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	return c.launch(ctx, wf, plan)
}

// launch transitions the workflow to running and spawns its driver goroutine.
func (c *Coordinator) launch(ctx context.Context, wf *state.Workflow, plan []state.Stage) (*state.Workflow, error) {
	handle, err := c.register(wf.ID)
	if err != nil {
		return nil, err
	}

	updated, err := c.store.TransitionWorkflow(ctx, wf.ID, state.WorkflowRunning)
	if err != nil {
		c.unregister(wf.ID)
		return nil, err
	}
	wf = updated

	c.logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldRunKind, string(wf.RunKind)),
		logging.Int("symbols", len(wf.Metadata.Symbols)),
		logging.Int("stages", len(plan)),
		logging.String(logging.FieldEventType, "workflow_start"),
	)

	go c.drive(wf, plan, handle)
	return wf, nil
}

// Wait blocks until the coordinator finishes driving the workflow or the
// context expires. Returns immediately when the workflow is not active.
func (c *Coordinator) Wait(ctx context.Context, id string) error {
	handle := c.handleFor(id)
	if handle == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-handle.done:
		return nil
	}
}

// Pause requests a graceful halt at the next scheduling boundary. In-flight
// symbol attempts run to completion before the workflow parks.
func (c *Coordinator) Pause(ctx context.Context, id string) error {
	handle := c.handleFor(id)
	if handle == nil {
		return fmt.Errorf("%w: %s", ErrWorkflowNotActive, id)
	}
	handle.request(intentPause)
	return nil
}

// Cancel terminates a workflow. Active runs stop at the next scheduling
// boundary; paused or pending workflows are cancelled directly. Remaining
// unprocessed units are marked skipped either way.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	if handle := c.handleFor(id); handle != nil {
		handle.request(intentCancel)
		return nil
	}

	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status != state.WorkflowPending && wf.Status != state.WorkflowPaused {
		return fmt.Errorf("cannot cancel workflow in status %s", wf.Status)
	}
	if wf.CurrentStage != "" {
		if _, err := c.store.SkipNonTerminal(ctx, id, wf.CurrentStage, "workflow cancelled"); err != nil {
			return err
		}
	}
	_, err = c.store.TransitionWorkflow(ctx, id, state.WorkflowCancelled)
	return err
}

// Resume continues a paused workflow from its recorded stage. Units that
// already reached a terminal outcome are not reprocessed.
func (c *Coordinator) Resume(ctx context.Context, id string) (*state.Workflow, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != state.WorkflowPaused {
		return nil, fmt.Errorf("workflow %s is %s, only paused workflows resume", id, wf.Status)
	}

	plan := c.resumePlan(wf)
	if err := c.processors.Validate(plan); err != nil {
		return nil, err
	}

	if snapshot, err := c.checkpoints.LoadLatest(ctx, wf.ID, wf.CurrentStage); err == nil && snapshot != nil {
		c.logger.Info("resuming from checkpoint",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.String(logging.FieldStage, string(wf.CurrentStage)),
			logging.Int("remaining", len(snapshot.Remaining)),
			logging.String(logging.FieldEventType, "workflow_resume"),
		)
	}

	return c.launch(ctx, wf, plan)
}

// resumePlan returns the workflow's stage plan trimmed to start at the stage
// that was interrupted.
func (c *Coordinator) resumePlan(wf *state.Workflow) []state.Stage {
	plan := wf.StagePlan()
	if wf.CurrentStage == "" {
		return plan
	}
	for i, stg := range plan {
		if stg == wf.CurrentStage {
			return plan[i:]
		}
	}
	return plan
}
