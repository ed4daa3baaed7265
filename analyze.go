package cortex

import (
	"context"
	"encoding/json"
)

// analyze runs a structured clinical analysis over every text source the
// run has produced so far: direct input, transcript, intake form and OCR
// text, in that order.
//
// Output keys:
//   - analysis_json: JSON-serialized Analysis
//   - summary, risk_level: copied out when the analysis carries them
//   - ephemeral: true for GHOST-tier runs
type analyze struct {
	provider Provider
	opts     Options
}

func newAnalyze(deps StepDeps) (Step, error) {
	opts, err := stageOptions(deps)
	if err != nil {
		return nil, err
	}
	return &analyze{provider: deps.Provider, opts: opts}, nil
}

// Execute implements Step.
func (s *analyze) Execute(ctx context.Context, ec *ExecutionContext) error {
	content, found := gatherClinicalText(ec)
	if found == 0 {
		return stepError(StepAnalyze, "no text available to analyze", nil)
	}
	if s.provider == nil {
		return stepError(StepAnalyze, "cannot analyze", ErrNoProvider)
	}

	opts := runOptions(s.opts, ec)
	result, err := s.provider.Analyze(ctx, content, opts)
	if err != nil {
		return stepError(StepAnalyze, "analysis failed", err)
	}
	if result == nil {
		return stepError(StepAnalyze, "provider returned no analysis", nil)
	}
	if err := result.Validate(); err != nil {
		return stepError(StepAnalyze, "invalid analysis", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return stepError(StepAnalyze, "failed to marshal analysis", err)
	}

	outputs := map[string]any{
		"analysis_json": string(raw),
		"source_count":  found,
	}
	if result.Summary != "" {
		outputs["summary"] = result.Summary
	}
	if result.RiskLevel != "" {
		level, _ := ParseRiskLevel(result.RiskLevel)
		outputs["risk_level"] = string(level)
	}
	if opts.Ephemeral {
		outputs["ephemeral"] = true
	}

	ec.SetOutputs(StepAnalyze, outputs)
	return nil
}
