package cortex

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrTierAlreadyResolved is returned when a context's tier is set twice.
	ErrTierAlreadyResolved = errors.New("privacy tier already resolved")

	// ErrUnknownStep is returned when a stage names an unregistered step type.
	ErrUnknownStep = errors.New("unknown step type")

	// ErrRegistrySealed is returned when registering after the registry was sealed.
	ErrRegistrySealed = errors.New("step registry is sealed")

	// errRedacted replaces provider error text for GHOST-tier runs.
	errRedacted = errors.New("redacted")
)

// PipelineNotFoundError is returned when no pipeline definition matches a name.
type PipelineNotFoundError struct {
	Name string
}

func (e *PipelineNotFoundError) Error() string {
	return fmt.Sprintf("pipeline %q not found", e.Name)
}

// PipelineDisabledError is returned when a pipeline exists but is inactive.
type PipelineDisabledError struct {
	Name string
}

func (e *PipelineDisabledError) Error() string {
	return fmt.Sprintf("pipeline %q is disabled", e.Name)
}

// TierMismatchError is returned when the resolved tier is more restrictive
// than the tier a pipeline was authored for.
type TierMismatchError struct {
	Pipeline string
	Required PrivacyTier
	Resolved PrivacyTier
}

func (e *TierMismatchError) Error() string {
	return fmt.Sprintf("pipeline %q requires tier %s but patient resolves to %s",
		e.Pipeline, e.Required, e.Resolved)
}

// StepExecutionError reports a failed stage.
type StepExecutionError struct {
	StepType string
	Message  string
	Cause    error
}

func (e *StepExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("step %s: %s: %v", e.StepType, e.Message, e.Cause)
	}
	return fmt.Sprintf("step %s: %s", e.StepType, e.Message)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// stepError builds a StepExecutionError.
func stepError(stepType, message string, cause error) *StepExecutionError {
	return &StepExecutionError{StepType: stepType, Message: message, Cause: cause}
}

// DuplicateResourceError is returned by AddEvidence when the key is taken.
type DuplicateResourceError struct {
	Key string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("resource %q already registered", e.Key)
}

// PipelineExecutionError is the error surfaced by RunPipeline for any
// failure during loading, eligibility checking, or stage execution.
// Stage is empty when the failure happened before the first stage.
// Finalization is set when cleanup ran despite the failure (GHOST tier).
type PipelineExecutionError struct {
	Pipeline     string
	Stage        string
	State        RunState
	Cause        error
	Finalization *FinalizationSummary
}

func (e *PipelineExecutionError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pipeline %q failed at stage %s: %v", e.Pipeline, e.Stage, e.Cause)
	}
	return fmt.Sprintf("pipeline %q failed: %v", e.Pipeline, e.Cause)
}

func (e *PipelineExecutionError) Unwrap() error {
	return e.Cause
}
