package cortex

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestBuiltinRegistry(t *testing.T) {
	r := NewBuiltinRegistry()
	want := []string{StepAnalyze, StepIntake, StepOCR, StepTranscribe, StepTriage}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildUnknownStep(t *testing.T) {
	_, err := NewBuiltinRegistry().Build(StepDeps{Stage: StageConfig{StepType: "summarize"}})
	if !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	requireStepError(t, err, "summarize")
}

func TestRegisterCustomStep(t *testing.T) {
	r := NewRegistry()
	called := false
	err := r.Register("echo", func(StepDeps) (Step, error) {
		return StepFunc(func(_ context.Context, ec *ExecutionContext) error {
			called = true
			ec.AddOutput("echo", "ok", true)
			return nil
		}), nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	step, err := r.Build(StepDeps{Stage: StageConfig{StepType: "echo"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ec := newTestContext()
	if err := step.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !called || ec.GetOutput("echo", "ok", false) != true {
		t.Error("custom step did not run")
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func(StepDeps) (Step, error) { return nil, nil }); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("expected error for nil factory")
	}
}

func TestSealedRegistry(t *testing.T) {
	r := NewBuiltinRegistry()
	r.Seal()

	err := r.Register("late", func(StepDeps) (Step, error) { return nil, nil })
	if !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if _, ok := r.Get(StepAnalyze); !ok {
		t.Error("sealed registry should still serve lookups")
	}
}

func TestMustRegisterPanicsWhenSealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	r.MustRegister("late", func(StepDeps) (Step, error) { return nil, nil })
}

func TestDefaultRegistryReset(t *testing.T) {
	t.Cleanup(ResetRegistry)

	if err := Register("custom", func(StepDeps) (Step, error) { return nil, nil }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, ok := DefaultRegistry().Get("custom"); !ok {
		t.Fatal("expected custom step in default registry")
	}

	ResetRegistry()
	if _, ok := DefaultRegistry().Get("custom"); ok {
		t.Error("ResetRegistry should drop custom steps")
	}
	if _, ok := DefaultRegistry().Get(StepTriage); !ok {
		t.Error("ResetRegistry should keep built-ins")
	}
}

func TestChainStep(t *testing.T) {
	var order []string
	step := ChainStep(Sequence("redact-names",
		Do("load", func(_ context.Context, ec *ExecutionContext) error {
			order = append(order, "load")
			ec.AddOutput("redact", "names", []string{"Jane"})
			return nil
		}),
		Effect("audit", func(context.Context, *ExecutionContext) error {
			order = append(order, "audit")
			return errors.New("audit sink offline")
		}),
		Do("redact", func(_ context.Context, ec *ExecutionContext) error {
			order = append(order, "redact")
			ec.AddOutput("redact", "done", true)
			return nil
		}),
	))

	ec := newTestContext()
	if err := step.Execute(context.Background(), ec); err != nil {
		t.Fatalf("chain failed: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"load", "audit", "redact"}) {
		t.Errorf("unexpected order %v", order)
	}
	if ec.GetOutput("redact", "done", false) != true {
		t.Error("expected final processor to run")
	}
}

func TestChainStepStopsOnError(t *testing.T) {
	ran := false
	step := ChainStep(Sequence("failing",
		Do("fail", func(context.Context, *ExecutionContext) error {
			return stepError("custom", "bad input", nil)
		}),
		Do("after", func(context.Context, *ExecutionContext) error {
			ran = true
			return nil
		}),
	))

	err := step.Execute(context.Background(), newTestContext())
	requireStepError(t, err, "custom")
	if ran {
		t.Error("processors after a failure must not run")
	}
}

func TestPromptsResolve(t *testing.T) {
	p := NewPrompts()

	if text, err := p.Resolve(""); err != nil || text != "" {
		t.Errorf("empty key should resolve to empty prompt, got %q (%v)", text, err)
	}
	if _, err := p.Resolve("analyze.soap"); err != nil {
		t.Errorf("default prompt missing: %v", err)
	}
	if _, err := p.Resolve("nope"); err == nil {
		t.Error("expected error for unknown key")
	}

	p.Set("analyze.brief", "Two sentences.")
	if text, _ := p.Resolve("analyze.brief"); text != "Two sentences." {
		t.Errorf("expected custom prompt, got %q", text)
	}

	var nilCatalog *Prompts
	if _, err := nilCatalog.Resolve("analyze.soap"); err == nil {
		t.Error("nil catalog should reject non-empty keys")
	}
}
