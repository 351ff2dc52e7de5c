package gate

import (
	"fmt"
	"strings"

	"quantpipe/internal/config"
	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

// Verdict is the outcome of one readiness check.
type Verdict struct {
	GateName string
	Passed   bool
	Reason   string
	Action   state.GateAction
}

// Evaluator applies stage-specific readiness policies.
type Evaluator struct {
	thresholds config.Gates
}

// NewEvaluator constructs an evaluator with the configured thresholds.
func NewEvaluator(thresholds config.Gates) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Check returns the verdict for a symbol's readiness metrics. A nil or
// stage-mismatched readiness report fails with a data-quality action, since
// the processor did not honor its contract.
func (e *Evaluator) Check(stg state.Stage, readiness stage.Readiness) Verdict {
	if readiness == nil {
		return Verdict{
			GateName: gateName(stg),
			Passed:   false,
			Reason:   "processor reported no readiness metrics",
			Action:   state.ActionFixDataQuality,
		}
	}
	if readiness.ReadinessStage() != stg {
		return Verdict{
			GateName: gateName(stg),
			Passed:   false,
			Reason:   fmt.Sprintf("readiness metrics for stage %s, expected %s", readiness.ReadinessStage(), stg),
			Action:   state.ActionFixDataQuality,
		}
	}

	switch r := readiness.(type) {
	case stage.IngestionReadiness:
		return e.checkIngestion(r)
	case stage.ValidationReadiness:
		return e.checkValidation(r)
	case stage.IndicatorReadiness:
		return e.checkIndicators(r)
	case stage.SignalReadiness:
		return e.checkSignals(r)
	case stage.ScoringReadiness:
		return e.checkScoring(r)
	case stage.CachingReadiness:
		return e.checkCaching(r)
	default:
		return Verdict{
			GateName: gateName(stg),
			Passed:   false,
			Reason:   fmt.Sprintf("unknown readiness type %T", readiness),
			Action:   state.ActionFixDataQuality,
		}
	}
}

func (e *Evaluator) checkIngestion(r stage.IngestionReadiness) Verdict {
	v := Verdict{GateName: "ingestion_history", Passed: true}
	if r.BarCount < e.thresholds.MinBarCount {
		v.Passed = false
		v.Reason = fmt.Sprintf("insufficient history: %d bars, need %d", r.BarCount, e.thresholds.MinBarCount)
		// Thin history cannot improve by re-running ingestion alone.
		v.Action = state.ActionSkip
	}
	return v
}

func (e *Evaluator) checkValidation(r stage.ValidationReadiness) Verdict {
	v := Verdict{GateName: "validation_quality", Passed: true}
	switch {
	case r.IssueCount > e.thresholds.MaxValidationIssues:
		v.Passed = false
		v.Reason = fmt.Sprintf("%d data issues found, at most %d allowed", r.IssueCount, e.thresholds.MaxValidationIssues)
		v.Action = state.ActionFixDataQuality
	case r.QualityScore < e.thresholds.MinValidationQuality:
		v.Passed = false
		v.Reason = fmt.Sprintf("quality score %.2f below %.2f", r.QualityScore, e.thresholds.MinValidationQuality)
		v.Action = state.ActionFixDataQuality
	}
	return v
}

func (e *Evaluator) checkIndicators(r stage.IndicatorReadiness) Verdict {
	v := Verdict{GateName: "indicator_completeness", Passed: true}
	if len(r.MissingFields) > e.thresholds.MaxMissingIndicators {
		v.Passed = false
		v.Reason = fmt.Sprintf("missing indicator fields: %s", strings.Join(r.MissingFields, ", "))
		v.Action = state.ActionFixDataQuality
	}
	return v
}

func (e *Evaluator) checkSignals(r stage.SignalReadiness) Verdict {
	v := Verdict{GateName: "signal_quality", Passed: true}
	if r.QualityScore < e.thresholds.MinSignalQuality {
		v.Passed = false
		v.Reason = fmt.Sprintf("signal quality %.2f below %.2f", r.QualityScore, e.thresholds.MinSignalQuality)
		v.Action = state.ActionSkip
	}
	return v
}

func (e *Evaluator) checkScoring(r stage.ScoringReadiness) Verdict {
	v := Verdict{GateName: "scoring_quality", Passed: true}
	switch {
	case !r.Scored:
		v.Passed = false
		v.Reason = "symbol was not scored"
		v.Action = state.ActionFixDataQuality
	case r.QualityScore < e.thresholds.MinScoringQuality:
		v.Passed = false
		v.Reason = fmt.Sprintf("scoring quality %.2f below %.2f", r.QualityScore, e.thresholds.MinScoringQuality)
		v.Action = state.ActionSkip
	}
	return v
}

func (e *Evaluator) checkCaching(r stage.CachingReadiness) Verdict {
	v := Verdict{GateName: "cache_write", Passed: true}
	if !r.Written {
		v.Passed = false
		v.Reason = "cache write not acknowledged"
		// A missed cache write usually succeeds on reattempt.
		v.Action = state.ActionRetry
	}
	return v
}

func gateName(stg state.Stage) string {
	switch stg {
	case state.StageIngestion:
		return "ingestion_history"
	case state.StageValidation:
		return "validation_quality"
	case state.StageIndicators:
		return "indicator_completeness"
	case state.StageSignals:
		return "signal_quality"
	case state.StageScoring:
		return "scoring_quality"
	case state.StageCaching:
		return "cache_write"
	default:
		return string(stg)
	}
}
