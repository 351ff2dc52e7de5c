package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

// PassingReadiness returns metrics that clear the default gate thresholds
// for the given stage.
func PassingReadiness(stg state.Stage) stage.Readiness {
	switch stg {
	case state.StageIngestion:
		return stage.IngestionReadiness{BarCount: 1000}
	case state.StageValidation:
		return stage.ValidationReadiness{QualityScore: 0.99, IssueCount: 0}
	case state.StageIndicators:
		return stage.IndicatorReadiness{}
	case state.StageSignals:
		return stage.SignalReadiness{QualityScore: 0.95, SignalCount: 3}
	case state.StageScoring:
		return stage.ScoringReadiness{Scored: true, QualityScore: 0.95}
	case state.StageCaching:
		return stage.CachingReadiness{Written: true, KeyCount: 4}
	default:
		return nil
	}
}

// ScriptedProcessor is a stage.Processor whose behavior is scripted per
// symbol: it fails with the configured error for the first FailuresBefore
// attempts, then succeeds with the configured readiness. Safe for use from
// concurrent workers.
type ScriptedProcessor struct {
	Stage state.Stage

	mu       sync.Mutex
	attempts map[string]int
	scripts  map[string]*symbolScript
	inputs   map[string]stage.Input
	healthy  bool
	detail   string

	// Calls records the order in which symbols were attempted.
	Calls []string
}

type symbolScript struct {
	failuresBefore int
	err            error
	readiness      stage.Readiness
	block          func(ctx context.Context) error
}

// NewScriptedProcessor builds a processor that succeeds immediately for every
// symbol with passing readiness, ready to be customized per symbol.
func NewScriptedProcessor(stg state.Stage) *ScriptedProcessor {
	return &ScriptedProcessor{
		Stage:    stg,
		attempts: make(map[string]int),
		scripts:  make(map[string]*symbolScript),
		inputs:   make(map[string]stage.Input),
		healthy:  true,
	}
}

// FailSymbol makes the given symbol fail with err for its first n attempts.
func (p *ScriptedProcessor) FailSymbol(symbol string, n int, err error) *ScriptedProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	script := p.script(symbol)
	script.failuresBefore = n
	script.err = err
	return p
}

// ReportReadiness overrides the readiness the symbol reports on success.
func (p *ScriptedProcessor) ReportReadiness(symbol string, readiness stage.Readiness) *ScriptedProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script(symbol).readiness = readiness
	return p
}

// BlockSymbol makes the symbol wait on fn before completing, letting tests
// exercise timeouts and cancellation.
func (p *ScriptedProcessor) BlockSymbol(symbol string, fn func(ctx context.Context) error) *ScriptedProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script(symbol).block = fn
	return p
}

// SetUnhealthy makes HealthCheck report not ready with the given detail.
func (p *ScriptedProcessor) SetUnhealthy(detail string) *ScriptedProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = false
	p.detail = detail
	return p
}

func (p *ScriptedProcessor) script(symbol string) *symbolScript {
	script, ok := p.scripts[symbol]
	if !ok {
		script = &symbolScript{}
		p.scripts[symbol] = script
	}
	return script
}

// Attempts returns how many times the symbol was processed.
func (p *ScriptedProcessor) Attempts(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[symbol]
}

// LastInput returns the input of the symbol's most recent attempt.
func (p *ScriptedProcessor) LastInput(symbol string) stage.Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs[symbol]
}

// Process implements stage.Processor.
func (p *ScriptedProcessor) Process(ctx context.Context, symbol string, in stage.Input) (stage.Result, error) {
	p.mu.Lock()
	p.attempts[symbol]++
	attempt := p.attempts[symbol]
	p.Calls = append(p.Calls, symbol)
	p.inputs[symbol] = in
	script := p.scripts[symbol]
	p.mu.Unlock()

	if script != nil && script.block != nil {
		if err := script.block(ctx); err != nil {
			return stage.Result{}, err
		}
	}
	if script != nil && script.err != nil && attempt <= script.failuresBefore {
		return stage.Result{}, script.err
	}

	readiness := PassingReadiness(p.Stage)
	if script != nil && script.readiness != nil {
		readiness = script.readiness
	}
	output, _ := json.Marshal(map[string]any{
		"stage":   string(p.Stage),
		"symbol":  symbol,
		"attempt": attempt,
	})
	return stage.Result{Output: output, Readiness: readiness}, nil
}

// HealthCheck implements stage.Processor.
func (p *ScriptedProcessor) HealthCheck(ctx context.Context) stage.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := fmt.Sprintf("%s-processor", p.Stage)
	if !p.healthy {
		return stage.Unhealthy(name, p.detail)
	}
	return stage.Healthy(name)
}

// NewProcessorSet returns a set of scripted processors, one per stage, all
// succeeding with passing readiness until customized.
func NewProcessorSet() (stage.ProcessorSet, map[state.Stage]*ScriptedProcessor) {
	procs := make(map[state.Stage]*ScriptedProcessor, 6)
	for _, stg := range state.Stages() {
		procs[stg] = NewScriptedProcessor(stg)
	}
	return stage.ProcessorSet{
		Ingestion:  procs[state.StageIngestion],
		Validation: procs[state.StageValidation],
		Indicators: procs[state.StageIndicators],
		Signals:    procs[state.StageSignals],
		Scoring:    procs[state.StageScoring],
		Caching:    procs[state.StageCaching],
	}, procs
}
