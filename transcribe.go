package cortex

import (
	"context"
)

// transcribe converts the run's audio evidence into text.
//
// Output keys: transcript, duration_seconds, language.
type transcribe struct {
	provider Provider
	opts     Options
}

func newTranscribe(deps StepDeps) (Step, error) {
	opts, err := stageOptions(deps)
	if err != nil {
		return nil, err
	}
	return &transcribe{provider: deps.Provider, opts: opts}, nil
}

// Execute implements Step.
func (s *transcribe) Execute(ctx context.Context, ec *ExecutionContext) error {
	_, uri, ok := ec.FindEvidenceFunc(IsAudio)
	if !ok {
		return stepError(StepTranscribe, "no audio evidence registered", nil)
	}
	if s.provider == nil {
		return stepError(StepTranscribe, "cannot transcribe", ErrNoProvider)
	}

	result, err := s.provider.Transcribe(ctx, uri, runOptions(s.opts, ec))
	if err != nil {
		return stepError(StepTranscribe, "transcription failed", err)
	}
	if result == nil {
		return stepError(StepTranscribe, "provider returned no transcription", nil)
	}
	if err := result.Validate(); err != nil {
		return stepError(StepTranscribe, "invalid transcription", err)
	}

	ec.SetOutputs(StepTranscribe, map[string]any{
		"transcript":       result.Transcript,
		"duration_seconds": result.DurationSeconds,
		"language":         result.Language,
	})
	return nil
}
