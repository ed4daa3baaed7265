// Package cortex runs declarative clinical AI pipelines against patient
// evidence while enforcing a per-patient retention policy.
//
// cortex combines a small pipeline interpreter, a shared execution context,
// a privacy-tier waterfall and tier-conditional evidence cleanup, plus a
// traffic switch for migrating callers off a legacy code path.
//
// # Core Types
//
//   - [Orchestrator] - Loads a pipeline, resolves the tier, runs stages, finalizes
//   - [ExecutionContext] - Per-run blackboard holding evidence, tier and outputs
//   - [Registry] - Maps step type names to step factories
//   - [PrivacyResolver] - Patient override, organization default, country, global
//   - [Finalizer] - Deletes, archives or retains evidence by tier
//   - [TrafficSwitch] - Routes tenants between the new engine and legacy
//
// # Running a Pipeline
//
//	store, err := cortex.LoadFileStore("pipelines.yaml")
//	o := cortex.NewOrchestrator(store).
//	    WithProvider(cortex.NewSynapseProvider(llm)).
//	    WithStorage(storage)
//
//	result, err := o.RunPipeline(ctx, "clinical_soap_v1", patient, org,
//	    map[string]string{"audio": "s3://sessions/a.wav"}, nil, nil)
//
// Failures return a [*PipelineExecutionError] wrapping one of
// [PipelineNotFoundError], [PipelineDisabledError], [TierMismatchError] or
// [StepExecutionError]. Cleanup failures never fail a run; they are listed
// in [FinalizationSummary].Errors.
//
// # Privacy Tiers
//
//   - GHOST - every resource is deleted and transcripts are redacted
//   - STANDARD - audio is deleted, other resources are kept
//   - LEGACY - audio moves to cold storage, other resources are kept
//
// GHOST results are never handed to a [ResultStore] with their outputs, and
// providers receive [Options].Ephemeral.
//
// # Built-in Steps
//
//   - transcribe - audio resource to transcript
//   - ocr - image or document resource to text
//   - intake - structured form input to text
//   - analyze - all gathered text to a structured analysis
//   - triage - risk level; never fails, degrades to [DefaultTriageRiskLevel]
//
// Custom steps are registered with [Register] and may be composed from pipz
// processors with [Do], [Sequence] and [ChainStep].
//
// # Provider
//
// AI access uses a resolution hierarchy:
//
//  1. Orchestrator (.WithProvider(p))
//  2. Context value (cortex.WithProvider(ctx, p))
//  3. Global default (cortex.SetProvider(p))
//
// [SynapseProvider] implements [Provider] over any zyn-compatible LLM.
//
// # Storage
//
// [FileStore] reads pipelines and the switch policy from YAML. [SoyStore]
// keeps them in PostgreSQL along with patients, organizations and results.
// [MinioStorage] deletes and archives evidence in S3-compatible storage.
//
// # Observability
//
// cortex emits capitan signals throughout execution. See signals.go for the
// complete list, including RunStarted, TierResolved, StageCompleted,
// EvidenceDeleted and SwitchDecided.
package cortex
