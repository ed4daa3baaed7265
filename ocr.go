package cortex

import (
	"context"
)

// documentFragments name the evidence kinds OCR can read.
var documentFragments = []string{
	KindImage.String(),
	KindDocument.String(),
	KindPhoto.String(),
	KindScan.String(),
}

// ocr extracts text from image or document evidence.
//
// Output keys: extracted_text, document_type, confidence.
type ocr struct {
	provider Provider
	opts     Options
}

func newOCR(deps StepDeps) (Step, error) {
	opts, err := stageOptions(deps)
	if err != nil {
		return nil, err
	}
	return &ocr{provider: deps.Provider, opts: opts}, nil
}

// Execute implements Step.
func (s *ocr) Execute(ctx context.Context, ec *ExecutionContext) error {
	_, uri, ok := ec.FindEvidence(documentFragments...)
	if !ok {
		return stepError(StepOCR, "no image or document evidence registered", nil)
	}
	if s.provider == nil {
		return stepError(StepOCR, "cannot extract text", ErrNoProvider)
	}

	result, err := s.provider.ExtractText(ctx, uri, runOptions(s.opts, ec))
	if err != nil {
		return stepError(StepOCR, "text extraction failed", err)
	}
	if result == nil {
		return stepError(StepOCR, "provider returned no extraction", nil)
	}
	if err := result.Validate(); err != nil {
		return stepError(StepOCR, "invalid extraction", err)
	}

	ec.SetOutputs(StepOCR, map[string]any{
		"extracted_text": result.Text,
		"document_type":  result.DocumentType,
		"confidence":     result.Confidence,
	})
	return nil
}
