package gate

import (
	"testing"
	"time"

	"quantpipe/internal/config"
	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(config.Gates{
		MinBarCount:          250,
		MinValidationQuality: 0.90,
		MaxValidationIssues:  0,
		MaxMissingIndicators: 0,
		MinSignalQuality:     0.80,
		MinScoringQuality:    0.80,
	})
}

func TestCheckIngestionHistory(t *testing.T) {
	e := testEvaluator()

	v := e.Check(state.StageIngestion, stage.IngestionReadiness{BarCount: 300, EarliestBar: time.Now()})
	if !v.Passed {
		t.Fatalf("sufficient history should pass: %+v", v)
	}

	v = e.Check(state.StageIngestion, stage.IngestionReadiness{BarCount: 100})
	if v.Passed || v.Action != state.ActionSkip {
		t.Fatalf("thin history should skip: %+v", v)
	}
	if v.GateName != "ingestion_history" {
		t.Fatalf("gate name = %s", v.GateName)
	}
}

func TestCheckValidationQuality(t *testing.T) {
	e := testEvaluator()

	v := e.Check(state.StageValidation, stage.ValidationReadiness{QualityScore: 0.95})
	if !v.Passed {
		t.Fatalf("clean data should pass: %+v", v)
	}

	v = e.Check(state.StageValidation, stage.ValidationReadiness{QualityScore: 0.95, IssueCount: 3})
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("issues should demand a data fix: %+v", v)
	}

	v = e.Check(state.StageValidation, stage.ValidationReadiness{QualityScore: 0.50})
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("low quality should demand a data fix: %+v", v)
	}
}

func TestCheckIndicatorCompleteness(t *testing.T) {
	e := testEvaluator()

	if v := e.Check(state.StageIndicators, stage.IndicatorReadiness{}); !v.Passed {
		t.Fatalf("complete indicators should pass: %+v", v)
	}

	v := e.Check(state.StageIndicators, stage.IndicatorReadiness{MissingFields: []string{"rsi_14"}})
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("missing fields should fail: %+v", v)
	}
}

func TestCheckSignalQuality(t *testing.T) {
	e := testEvaluator()

	if v := e.Check(state.StageSignals, stage.SignalReadiness{QualityScore: 0.85}); !v.Passed {
		t.Fatalf("good signals should pass: %+v", v)
	}

	v := e.Check(state.StageSignals, stage.SignalReadiness{QualityScore: 0.50})
	if v.Passed || v.Action != state.ActionSkip {
		t.Fatalf("weak signals should skip: %+v", v)
	}
}

func TestCheckScoringQuality(t *testing.T) {
	e := testEvaluator()

	if v := e.Check(state.StageScoring, stage.ScoringReadiness{Scored: true, QualityScore: 0.90}); !v.Passed {
		t.Fatalf("scored symbol should pass: %+v", v)
	}

	v := e.Check(state.StageScoring, stage.ScoringReadiness{Scored: false})
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("unscored symbol should fail with a data fix: %+v", v)
	}

	v = e.Check(state.StageScoring, stage.ScoringReadiness{Scored: true, QualityScore: 0.10})
	if v.Passed || v.Action != state.ActionSkip {
		t.Fatalf("low scoring quality should skip: %+v", v)
	}
}

func TestCheckCacheWrite(t *testing.T) {
	e := testEvaluator()

	if v := e.Check(state.StageCaching, stage.CachingReadiness{Written: true, KeyCount: 4}); !v.Passed {
		t.Fatalf("acknowledged write should pass: %+v", v)
	}

	v := e.Check(state.StageCaching, stage.CachingReadiness{Written: false})
	if v.Passed || v.Action != state.ActionRetry {
		t.Fatalf("missed write should retry: %+v", v)
	}
}

func TestCheckRejectsMissingOrMismatchedReadiness(t *testing.T) {
	e := testEvaluator()

	v := e.Check(state.StageSignals, nil)
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("nil readiness should fail: %+v", v)
	}

	v = e.Check(state.StageSignals, stage.IngestionReadiness{BarCount: 1000})
	if v.Passed || v.Action != state.ActionFixDataQuality {
		t.Fatalf("mismatched readiness should fail: %+v", v)
	}
	if v.GateName != "signal_quality" {
		t.Fatalf("gate name should follow the checked stage, got %s", v.GateName)
	}
}
