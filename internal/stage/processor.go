package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"quantpipe/internal/state"
)

// Input carries everything a processor needs besides the symbol itself.
type Input struct {
	WorkflowID string
	RunKind    state.RunKind
	Stage      state.Stage
	// Prior is the persisted output of the same symbol at the previous
	// stage, nil for the first stage of a run.
	Prior json.RawMessage
}

// Result is the successful outcome of one processor invocation.
type Result struct {
	Output    json.RawMessage
	Readiness Readiness
}

// Processor is implemented by each of the six external stage collaborators.
type Processor interface {
	Process(ctx context.Context, symbol string, in Input) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// ProcessorSet maps each pipeline stage to its processor.
type ProcessorSet struct {
	Ingestion  Processor
	Validation Processor
	Indicators Processor
	Signals    Processor
	Scoring    Processor
	Caching    Processor
}

// For returns the processor registered for a stage.
func (ps ProcessorSet) For(stage state.Stage) (Processor, bool) {
	switch stage {
	case state.StageIngestion:
		return ps.Ingestion, ps.Ingestion != nil
	case state.StageValidation:
		return ps.Validation, ps.Validation != nil
	case state.StageIndicators:
		return ps.Indicators, ps.Indicators != nil
	case state.StageSignals:
		return ps.Signals, ps.Signals != nil
	case state.StageScoring:
		return ps.Scoring, ps.Scoring != nil
	case state.StageCaching:
		return ps.Caching, ps.Caching != nil
	}
	return nil, false
}

// Validate confirms a processor is registered for every requested stage.
func (ps ProcessorSet) Validate(stages []state.Stage) error {
	for _, stg := range stages {
		if _, ok := ps.For(stg); !ok {
			return fmt.Errorf("no processor registered for stage %s", stg)
		}
	}
	return nil
}
