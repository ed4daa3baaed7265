package cortex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// RunState is a step in the orchestrator's per-run state machine.
type RunState string

// Run states, in order. StateFailed is reachable from any non-terminal state.
const (
	StateLoading            RunState = "LOADING"
	StateContextBuilt       RunState = "CONTEXT_BUILT"
	StateTierResolved       RunState = "TIER_RESOLVED"
	StateEligibilityChecked RunState = "ELIGIBILITY_CHECKED"
	StateExecuting          RunState = "EXECUTING"
	StateFinalizing         RunState = "FINALIZING"
	StateDone               RunState = "DONE"
	StateFailed             RunState = "FAILED"
)

// Orchestrator runs declarative pipelines against patient evidence.
//
// One Orchestrator serves any number of concurrent runs. Each run owns its
// ExecutionContext and its built stages; the only shared state is the
// config store, the registry and the provider.
type Orchestrator struct {
	configs   ConfigStore
	registry  *Registry
	resolver  *PrivacyResolver
	prompts   *Prompts
	provider  Provider
	storage   ObjectStorage
	directory Directory
	results   ResultStore
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator reading pipelines from configs.
// It uses the process-wide registry and the built-in country table unless
// overridden.
func NewOrchestrator(configs ConfigStore) *Orchestrator {
	return &Orchestrator{
		configs:  configs,
		resolver: NewPrivacyResolver(),
		prompts:  NewPrompts(),
		now:      time.Now,
	}
}

// WithProvider sets the provider used by every stage.
// Takes precedence over context and global providers.
func (o *Orchestrator) WithProvider(p Provider) *Orchestrator {
	o.provider = p
	return o
}

// WithStorage sets the object storage used by the finalizer.
func (o *Orchestrator) WithStorage(s ObjectStorage) *Orchestrator {
	o.storage = s
	return o
}

// WithRegistry sets the step registry. Defaults to DefaultRegistry.
func (o *Orchestrator) WithRegistry(r *Registry) *Orchestrator {
	o.registry = r
	return o
}

// WithResolver sets the privacy resolver.
func (o *Orchestrator) WithResolver(r *PrivacyResolver) *Orchestrator {
	o.resolver = r
	return o
}

// WithPrompts sets the prompt catalog.
func (o *Orchestrator) WithPrompts(p *Prompts) *Orchestrator {
	o.prompts = p
	return o
}

// WithDirectory sets the directory used by RunPipelineByID.
func (o *Orchestrator) WithDirectory(d Directory) *Orchestrator {
	o.directory = d
	return o
}

// WithResultStore sets a sink for successful results.
func (o *Orchestrator) WithResultStore(s ResultStore) *Orchestrator {
	o.results = s
	return o
}

// WithClock overrides the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// RunPipelineByID looks up the patient and organization in the directory and
// runs the named pipeline.
func (o *Orchestrator) RunPipelineByID(
	ctx context.Context,
	name string,
	patientID, organizationID uuid.UUID,
	resources map[string]string,
	input map[string]any,
	clinicalEntryID *uuid.UUID,
) (*PipelineResult, error) {
	if o.directory == nil {
		return nil, &PipelineExecutionError{Pipeline: name, State: StateLoading, Cause: errors.New("no directory configured")}
	}
	patient, err := o.directory.Patient(ctx, patientID)
	if err != nil {
		return nil, &PipelineExecutionError{Pipeline: name, State: StateLoading, Cause: fmt.Errorf("load patient: %w", err)}
	}
	org, err := o.directory.Organization(ctx, organizationID)
	if err != nil {
		return nil, &PipelineExecutionError{Pipeline: name, State: StateLoading, Cause: fmt.Errorf("load organization: %w", err)}
	}
	return o.RunPipeline(ctx, name, *patient, *org, resources, input, clinicalEntryID)
}

// RunPipeline executes the named pipeline for one patient.
//
// Any failure while loading, checking eligibility or executing stages
// returns a *PipelineExecutionError. Cleanup failures never fail the run;
// they are reported in the result's finalization summary.
func (o *Orchestrator) RunPipeline(
	ctx context.Context,
	name string,
	patient Patient,
	org Organization,
	resources map[string]string,
	input map[string]any,
	clinicalEntryID *uuid.UUID,
) (*PipelineResult, error) {
	r := &run{
		o:         o,
		pipeline:  name,
		state:     StateLoading,
		startedAt: o.now(),
	}
	r.ec = NewExecutionContext(patient.ID, org.ID, clinicalEntryID)

	capitan.Emit(ctx, RunStarted,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(name),
		FieldPatientID.Field(patient.ID.String()),
	)

	// LOADING
	cfg, err := o.configs.LoadPipeline(ctx, name)
	if err != nil {
		return nil, r.fail(ctx, "", fmt.Errorf("load pipeline: %w", err))
	}
	if cfg == nil {
		return nil, r.fail(ctx, "", &PipelineNotFoundError{Name: name})
	}
	if !cfg.IsActive {
		return nil, r.fail(ctx, "", &PipelineDisabledError{Name: name})
	}

	keys := make([]string, 0, len(resources))
	for k := range resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.ec.AddEvidence(k, resources[k]); err != nil {
			return nil, r.fail(ctx, "", err)
		}
	}
	if len(input) > 0 {
		r.ec.SetOutputs(InputStage, input)
	}
	r.transition(ctx, StateContextBuilt)

	// TIER_RESOLVED
	exp := o.resolver.Explain(patient, org)
	if err := r.ec.SetTier(exp.Tier); err != nil {
		return nil, r.fail(ctx, "", err)
	}
	r.source = exp.Source
	capitan.Emit(ctx, TierResolved,
		FieldTraceID.Field(r.ec.TraceID),
		FieldTier.Field(exp.Tier.String()),
		FieldTierSource.Field(string(exp.Source)),
	)
	r.transition(ctx, StateTierResolved)

	// ELIGIBILITY_CHECKED
	if cfg.RequiredTier != nil && exp.Tier.MoreRestrictiveThan(*cfg.RequiredTier) {
		return nil, r.fail(ctx, "", &TierMismatchError{
			Pipeline: name,
			Required: *cfg.RequiredTier,
			Resolved: exp.Tier,
		})
	}
	r.transition(ctx, StateEligibilityChecked)

	// EXECUTING
	stages, failedType, err := o.buildStages(ctx, cfg)
	if err != nil {
		return nil, r.fail(ctx, failedType, err)
	}
	r.transition(ctx, StateExecuting)

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(ctx, st.config.StepType, err)
		}
		if err := r.execute(ctx, st); err != nil {
			return nil, r.fail(ctx, st.config.StepType, err)
		}
	}

	// FINALIZING
	r.transition(ctx, StateFinalizing)
	summary := NewFinalizer(o.storage).Finalize(context.WithoutCancel(ctx), r.ec)

	// DONE
	result := r.result(cfg, summary, len(stages))
	r.transition(ctx, StateDone)
	o.record(ctx, result)

	capitan.Emit(ctx, RunCompleted,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(name),
		FieldTier.Field(result.Tier.String()),
		FieldStageCount.Field(result.StageCount),
		FieldDuration.Field(result.Elapsed),
	)
	return result, nil
}

// buildStages constructs every stage up front so an unknown step type fails
// the run before any provider call is made.
func (o *Orchestrator) buildStages(ctx context.Context, cfg *PipelineConfig) ([]*stage, string, error) {
	registry := o.registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	// A missing provider is not fatal here: steps that need one fail with
	// ErrNoProvider, and triage degrades.
	provider, _ := ResolveProvider(ctx, o.provider)

	stages := make([]*stage, 0, len(cfg.Stages))
	for i, sc := range cfg.Stages {
		step, err := registry.Build(StepDeps{Stage: sc, Provider: provider, Prompts: o.prompts})
		if err != nil {
			return nil, sc.StepType, err
		}
		stages = append(stages, newStage(i, sc, step))
	}
	return stages, "", nil
}

func (o *Orchestrator) record(ctx context.Context, result *PipelineResult) {
	if o.results == nil {
		return
	}
	if err := o.results.RecordResult(ctx, result.persistable()); err != nil {
		capitan.Error(ctx, ResultRecordFailed,
			FieldTraceID.Field(result.RunID),
			FieldPipeline.Field(result.Pipeline),
			FieldError.Field(visibleError(result.Tier, err)),
		)
		return
	}
	capitan.Emit(ctx, ResultRecorded,
		FieldTraceID.Field(result.RunID),
		FieldPipeline.Field(result.Pipeline),
	)
}

// run is the state of one RunPipeline call.
type run struct {
	o         *Orchestrator
	ec        *ExecutionContext
	pipeline  string
	state     RunState
	source    TierSource
	startedAt time.Time
}

func (r *run) transition(ctx context.Context, next RunState) {
	r.state = next
	capitan.Emit(ctx, RunStateChanged,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(r.pipeline),
		FieldState.Field(string(next)),
	)
}

func (r *run) execute(ctx context.Context, st *stage) error {
	start := r.o.now()
	capitan.Emit(ctx, StageStarted,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(r.pipeline),
		FieldStepType.Field(st.config.StepType),
		FieldStageIndex.Field(st.index),
	)

	err := st.run(ctx, r.ec)
	duration := r.o.now().Sub(start)
	if err != nil {
		tier, _ := r.ec.Tier()
		capitan.Error(ctx, StageFailed,
			FieldTraceID.Field(r.ec.TraceID),
			FieldPipeline.Field(r.pipeline),
			FieldStepType.Field(st.config.StepType),
			FieldStageIndex.Field(st.index),
			FieldDuration.Field(duration),
			FieldError.Field(visibleError(tier, err)),
		)
		return err
	}

	capitan.Emit(ctx, StageCompleted,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(r.pipeline),
		FieldStepType.Field(st.config.StepType),
		FieldStageIndex.Field(st.index),
		FieldDuration.Field(duration),
	)
	return nil
}

// fail moves the run to FAILED. GHOST-tier evidence is erased even on
// failure; other tiers keep their evidence so the run can be retried.
func (r *run) fail(ctx context.Context, stageType string, cause error) error {
	failedIn := r.state
	r.transition(ctx, StateFailed)

	execErr := &PipelineExecutionError{
		Pipeline: r.pipeline,
		Stage:    stageType,
		State:    failedIn,
		Cause:    cause,
	}

	tier, _ := r.ec.Tier()
	if tier == TierGhost {
		summary := NewFinalizer(r.o.storage).Finalize(context.WithoutCancel(ctx), r.ec)
		execErr.Finalization = &summary
	}

	capitan.Error(ctx, RunFailed,
		FieldTraceID.Field(r.ec.TraceID),
		FieldPipeline.Field(r.pipeline),
		FieldState.Field(string(failedIn)),
		FieldStepType.Field(stageType),
		FieldError.Field(visibleError(tier, cause)),
	)
	return execErr
}

func (r *run) result(cfg *PipelineConfig, summary FinalizationSummary, stageCount int) *PipelineResult {
	outputs := r.ec.Outputs()
	delete(outputs, InputStage)

	tier, _ := r.ec.Tier()
	return &PipelineResult{
		RunID:           r.ec.TraceID,
		Pipeline:        cfg.Name,
		PatientID:       r.ec.PatientID,
		OrganizationID:  r.ec.OrganizationID,
		ClinicalEntryID: r.ec.ClinicalEntryID,
		Tier:            tier,
		TierSource:      r.source,
		Outputs:         outputs,
		Finalization:    summary,
		StageCount:      stageCount,
		StartedAt:       r.startedAt,
		Elapsed:         r.o.now().Sub(r.startedAt),
	}
}
