package stage

import (
	"time"

	"quantpipe/internal/state"
)

// Readiness is the stage-tagged metric structure a processor reports for
// gate evaluation. The set of implementations is closed: one per stage.
type Readiness interface {
	ReadinessStage() state.Stage
}

// IngestionReadiness reports how much history was fetched for a symbol.
type IngestionReadiness struct {
	BarCount    int
	EarliestBar time.Time
}

func (IngestionReadiness) ReadinessStage() state.Stage { return state.StageIngestion }

// ValidationReadiness reports data-quality findings for a symbol.
type ValidationReadiness struct {
	QualityScore float64
	IssueCount   int
}

func (ValidationReadiness) ReadinessStage() state.Stage { return state.StageValidation }

// IndicatorReadiness reports indicator completeness for a symbol.
type IndicatorReadiness struct {
	MissingFields []string
}

func (IndicatorReadiness) ReadinessStage() state.Stage { return state.StageIndicators }

// SignalReadiness reports signal generation quality for a symbol.
type SignalReadiness struct {
	QualityScore float64
	SignalCount  int
}

func (SignalReadiness) ReadinessStage() state.Stage { return state.StageSignals }

// ScoringReadiness reports scoring completion quality for a symbol.
type ScoringReadiness struct {
	Scored       bool
	QualityScore float64
}

func (ScoringReadiness) ReadinessStage() state.Stage { return state.StageScoring }

// CachingReadiness reports whether results were written to the cache layer.
type CachingReadiness struct {
	Written  bool
	KeyCount int
}

func (CachingReadiness) ReadinessStage() state.Stage { return state.StageCaching }
