package cortex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/pipz"
)

// stage binds a built Step to its position in one run's pipeline and
// implements pipz.Chainable[*ExecutionContext] so it can be wrapped by pipz
// reliability connectors. Stages are built per run and never shared.
type stage struct {
	identity pipz.Identity
	name     string
	index    int
	config   StageConfig
	step     Step

	// lastErr is the step's own error from the most recent attempt, kept so
	// the typed error survives pipz wrapping.
	lastErr error
}

func newStage(index int, cfg StageConfig, step Step) *stage {
	name := fmt.Sprintf("%s[%d]", cfg.StepType, index)
	return &stage{
		identity: pipz.NewIdentity(name, "Pipeline stage "+cfg.StepType),
		name:     name,
		index:    index,
		config:   cfg,
		step:     step,
	}
}

// Process implements pipz.Chainable[*ExecutionContext].
func (s *stage) Process(ctx context.Context, ec *ExecutionContext) (*ExecutionContext, error) {
	err := s.step.Execute(ctx, ec)
	s.lastErr = err
	return ec, err
}

// Identity implements pipz.Chainable[*ExecutionContext].
func (s *stage) Identity() pipz.Identity {
	return s.identity
}

// Schema implements pipz.Chainable[*ExecutionContext].
func (s *stage) Schema() pipz.Node {
	return pipz.Node{Identity: s.identity, Type: s.config.StepType}
}

// Close implements pipz.Chainable[*ExecutionContext].
func (s *stage) Close() error {
	return nil
}

func (s *stage) timeout() time.Duration {
	if s.config.Timeout > 0 {
		return s.config.Timeout
	}
	return DefaultStageTimeout
}

// chain wraps the stage with the reliability connectors its config asks for.
// Triage is never retried or timed out: it cannot fail, and a timeout would
// turn a degraded result into a pipeline failure.
func (s *stage) chain() pipz.Chainable[*ExecutionContext] {
	var c pipz.Chainable[*ExecutionContext] = s
	if s.config.StepType == StepTriage {
		return c
	}
	if timeout := s.timeout(); timeout > 0 {
		c = pipz.NewTimeout(
			pipz.NewIdentity(s.name+"-timeout", "Stage attempt time limit"),
			c, timeout,
		)
	}
	if s.config.Retries > 0 {
		c = pipz.NewBackoff(
			pipz.NewIdentity(s.name+"-backoff", "Stage retry with exponential backoff"),
			c, s.config.Retries+1, DefaultRetryDelay,
		)
	}
	return c
}

// run executes the wrapped stage and normalizes the error to a
// *StepExecutionError.
func (s *stage) run(ctx context.Context, ec *ExecutionContext) error {
	_, err := s.chain().Process(ctx, ec)
	if err == nil {
		return nil
	}

	var stepErr *StepExecutionError
	if errors.As(err, &stepErr) {
		return stepErr
	}
	if s.timeout() == 0 && errors.As(s.lastErr, &stepErr) {
		return stepErr
	}
	return stepError(s.config.StepType, "stage failed", err)
}
