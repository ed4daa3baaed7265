package cortex

import (
	"context"

	"github.com/zoobzio/pipz"
)

// Helpers for building custom steps out of pipz processors over
// *ExecutionContext. A chain built here is registered like any other step:
//
//	cortex.Register("redact_names", func(deps cortex.StepDeps) (cortex.Step, error) {
//	    return cortex.ChainStep(cortex.Sequence("redact-names",
//	        cortex.Do("load", loadNames),
//	        cortex.Do("redact", redactNames),
//	    )), nil
//	})

// Do creates a processor from a function that reads and writes the context.
func Do(name string, fn func(context.Context, *ExecutionContext) error) pipz.Chainable[*ExecutionContext] {
	return pipz.Apply(pipz.NewIdentity(name, "Custom context processor"),
		func(ctx context.Context, ec *ExecutionContext) (*ExecutionContext, error) {
			return ec, fn(ctx, ec)
		})
}

// Effect creates a processor for side effects that must not fail the stage,
// such as metrics or audit hooks. Errors are reported by pipz and ignored.
func Effect(name string, fn func(context.Context, *ExecutionContext) error) pipz.Chainable[*ExecutionContext] {
	return pipz.Enrich(pipz.NewIdentity(name, "Best-effort context side effect"),
		func(ctx context.Context, ec *ExecutionContext) (*ExecutionContext, error) {
			return ec, fn(ctx, ec)
		})
}

// Sequence runs processors in order, stopping at the first error.
func Sequence(name string, processors ...pipz.Chainable[*ExecutionContext]) pipz.Chainable[*ExecutionContext] {
	return pipz.NewSequence(pipz.NewIdentity(name, "Custom step sequence"), processors...)
}

// ChainStep adapts a pipz chain to a Step.
func ChainStep(chain pipz.Chainable[*ExecutionContext]) Step {
	return StepFunc(func(ctx context.Context, ec *ExecutionContext) error {
		_, err := chain.Process(ctx, ec)
		return err
	})
}
