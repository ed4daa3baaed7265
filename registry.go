package cortex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Built-in step types.
const (
	StepTranscribe = "transcribe"
	StepAnalyze    = "analyze"
	StepOCR        = "ocr"
	StepTriage     = "triage"
	StepIntake     = "intake"
)

// Step is one pluggable stage implementation. Execute reads evidence and
// earlier outputs from ec and writes its own outputs back under its step
// type. On failure it returns a *StepExecutionError and writes nothing.
type Step interface {
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, ec *ExecutionContext) error

// Execute implements Step.
func (f StepFunc) Execute(ctx context.Context, ec *ExecutionContext) error {
	return f(ctx, ec)
}

// StepDeps is what a factory receives when the orchestrator builds a stage.
type StepDeps struct {
	Stage    StageConfig
	Provider Provider
	Prompts  *Prompts
}

// StepFactory constructs a Step for one stage.
type StepFactory func(deps StepDeps) (Step, error)

// builtinSteps are registered into every new default registry.
var builtinSteps = map[string]StepFactory{
	StepTranscribe: newTranscribe,
	StepAnalyze:    newAnalyze,
	StepOCR:        newOCR,
	StepTriage:     newTriage,
	StepIntake:     newIntake,
}

// Registry maps step type names to factories.
//
// Registration is expected to finish before runs start; Seal enforces that.
// Lookups take a read lock and are safe under concurrent runs.
type Registry struct {
	factories map[string]StepFactory
	sealed    bool
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StepFactory)}
}

// NewBuiltinRegistry creates a registry holding the built-in steps.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for name, f := range builtinSteps {
		r.factories[name] = f
	}
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory StepFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register step: name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register step %q: %w", name, ErrRegistrySealed)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error, for use in init functions.
func (r *Registry) MustRegister(name string, factory StepFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Seal stops further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get returns the factory registered for name.
func (r *Registry) Get(name string) (StepFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered step types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the step for one stage.
func (r *Registry) Build(deps StepDeps) (Step, error) {
	factory, ok := r.Get(deps.Stage.StepType)
	if !ok {
		return nil, stepError(deps.Stage.StepType, "cannot build stage", ErrUnknownStep)
	}
	step, err := factory(deps)
	if err != nil {
		return nil, stepError(deps.Stage.StepType, "cannot build stage", err)
	}
	return step, nil
}

// Process-wide default registry.
var defaultRegistry atomic.Pointer[Registry]

func init() {
	ResetRegistry()
}

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry.Load()
}

// Register adds a step to the process-wide registry.
func Register(name string, factory StepFactory) error {
	return DefaultRegistry().Register(name, factory)
}

// ResetRegistry replaces the process-wide registry with a fresh one holding
// only the built-in steps.
func ResetRegistry() {
	defaultRegistry.Store(NewBuiltinRegistry())
}
