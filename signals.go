package cortex

import "github.com/zoobzio/capitan"

// Signal definitions for engine events.
// Signals follow the pattern: cortex.<entity>.<event>.
var (
	// Run lifecycle signals.
	RunStarted = capitan.NewSignal(
		"cortex.run.started",
		"Pipeline run began for a patient",
	)
	RunStateChanged = capitan.NewSignal(
		"cortex.run.state",
		"Pipeline run moved to a new state",
	)
	RunCompleted = capitan.NewSignal(
		"cortex.run.completed",
		"Pipeline run finished and produced a result",
	)
	RunFailed = capitan.NewSignal(
		"cortex.run.failed",
		"Pipeline run aborted",
	)

	// Privacy signals.
	TierResolved = capitan.NewSignal(
		"cortex.tier.resolved",
		"Effective privacy tier resolved for the run",
	)

	// Stage execution signals.
	StageStarted = capitan.NewSignal(
		"cortex.stage.started",
		"Pipeline stage began execution",
	)
	StageCompleted = capitan.NewSignal(
		"cortex.stage.completed",
		"Pipeline stage finished successfully",
	)
	StageFailed = capitan.NewSignal(
		"cortex.stage.failed",
		"Pipeline stage encountered an error",
	)
	TriageDegraded = capitan.NewSignal(
		"cortex.triage.degraded",
		"Triage could not assess risk and fell back to its default level",
	)

	// Finalization signals.
	EvidenceDeleted = capitan.NewSignal(
		"cortex.evidence.deleted",
		"Evidence resource deleted after processing",
	)
	EvidenceArchived = capitan.NewSignal(
		"cortex.evidence.archived",
		"Evidence resource moved to cold storage",
	)
	EvidenceFailed = capitan.NewSignal(
		"cortex.evidence.failed",
		"Evidence cleanup or archival failed",
	)
	FinalizeSkipped = capitan.NewSignal(
		"cortex.finalize.skipped",
		"Finalization skipped because no tier was resolved",
	)

	// Result ledger signals.
	ResultRecorded = capitan.NewSignal(
		"cortex.result.recorded",
		"Pipeline result written to the result store",
	)
	ResultRecordFailed = capitan.NewSignal(
		"cortex.result.record_failed",
		"Pipeline result could not be written to the result store",
	)

	// Traffic switch signals.
	SwitchDecided = capitan.NewSignal(
		"cortex.switch.decided",
		"Traffic switch routed a tenant request",
	)
	SwitchUpdated = capitan.NewSignal(
		"cortex.switch.updated",
		"Traffic switch policy changed by an administrative operation",
	)
	SwitchRefreshed = capitan.NewSignal(
		"cortex.switch.refreshed",
		"Traffic switch policy reloaded from the config store",
	)
	SwitchRefreshFailed = capitan.NewSignal(
		"cortex.switch.refresh_failed",
		"Traffic switch kept its policy after a failed reload",
	)
)

// Field keys for engine event data.
var (
	// Run metadata.
	FieldTraceID    = capitan.NewStringKey("trace_id")
	FieldPipeline   = capitan.NewStringKey("pipeline")
	FieldPatientID  = capitan.NewStringKey("patient_id")
	FieldState      = capitan.NewStringKey("state")
	FieldStageCount = capitan.NewIntKey("stage_count")
	FieldDuration   = capitan.NewDurationKey("duration")

	// Privacy metadata.
	FieldTier       = capitan.NewStringKey("tier")
	FieldTierSource = capitan.NewStringKey("tier_source")

	// Stage metadata.
	FieldStepType   = capitan.NewStringKey("step_type") // transcribe, analyze, ocr, triage, intake
	FieldStageIndex = capitan.NewIntKey("stage_index")

	// Evidence metadata.
	FieldResourceKey  = capitan.NewStringKey("resource_key")
	FieldResourceKind = capitan.NewStringKey("resource_kind")
	FieldReason       = capitan.NewStringKey("reason")

	// Switch metadata.
	FieldTenantID   = capitan.NewStringKey("tenant_id")
	FieldTaskType   = capitan.NewStringKey("task_type")
	FieldSwitchMode = capitan.NewStringKey("switch_state")
	FieldPercentage = capitan.NewIntKey("percentage")
	FieldRoute      = capitan.NewStringKey("route")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)

// visibleError returns err, or a redacted stand-in for GHOST-tier runs.
func visibleError(tier PrivacyTier, err error) error {
	if tier == TierGhost && err != nil {
		return errRedacted
	}
	return err
}
