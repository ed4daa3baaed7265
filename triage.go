package cortex

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/capitan"
)

// triage classifies the entry's clinical risk.
//
// Unlike every other step, triage never fails the pipeline. Any error,
// including a panic inside the provider, degrades to DefaultTriageRiskLevel
// with degraded=true and the error text recorded under "error" (a generic
// message for GHOST-tier runs).
//
// Output keys: risk_level, confidence, reasoning, degraded, error.
type triage struct {
	provider Provider
	opts     Options
	buildErr error
}

func newTriage(deps StepDeps) (Step, error) {
	// A bad prompt key degrades at run time instead of failing the build.
	opts, err := stageOptions(deps)
	return &triage{provider: deps.Provider, opts: opts, buildErr: err}, nil
}

// Execute implements Step. It always returns nil.
func (s *triage) Execute(ctx context.Context, ec *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.degrade(ctx, ec, fmt.Errorf("triage panicked: %v", r))
		}
		err = nil
	}()

	assessment, assessErr := s.assess(ctx, ec)
	if assessErr != nil {
		s.degrade(ctx, ec, assessErr)
		return nil
	}

	ec.SetOutputs(StepTriage, map[string]any{
		"risk_level": string(assessment.Level),
		"confidence": assessment.Confidence,
		"reasoning":  assessment.Reasoning,
		"degraded":   false,
	})
	return nil
}

func (s *triage) assess(ctx context.Context, ec *ExecutionContext) (*RiskAssessment, error) {
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	if s.provider == nil {
		return nil, ErrNoProvider
	}

	content := triageContent(ec)
	if content == "" {
		return nil, errors.New("no content available to triage")
	}

	assessment, err := s.provider.AssessRisk(ctx, content, runOptions(s.opts, ec))
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, errors.New("provider returned no assessment")
	}
	level, err := ParseRiskLevel(string(assessment.Level))
	if err != nil {
		return nil, err
	}
	assessment.Level = level
	return assessment, nil
}

// degrade records the default risk level. It replaces anything triage wrote.
func (s *triage) degrade(ctx context.Context, ec *ExecutionContext, cause error) {
	tier, _ := ec.Tier()
	message := "risk assessment unavailable"
	if tier != TierGhost {
		message = cause.Error()
	}

	ec.ReplaceOutputs(StepTriage, map[string]any{
		"risk_level": string(DefaultTriageRiskLevel),
		"degraded":   true,
		"error":      message,
	})

	capitan.Emit(ctx, TriageDegraded,
		FieldTraceID.Field(ec.TraceID),
		FieldStepType.Field(StepTriage),
		FieldError.Field(visibleError(tier, cause)),
	)
}

// triageContent prefers the analysis summary, then the raw analysis, then
// whatever clinical text the run gathered.
func triageContent(ec *ExecutionContext) string {
	if summary, ok := ec.GetString(StepAnalyze, "summary"); ok {
		return summary
	}
	if raw, ok := ec.GetString(StepAnalyze, "analysis_json"); ok {
		return raw
	}
	text, _ := gatherClinicalText(ec)
	return text
}
