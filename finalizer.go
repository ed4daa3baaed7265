package cortex

import (
	"context"
	"errors"

	"github.com/zoobzio/capitan"
)

// SkipNoTier is the skip reason when a context reaches finalization without
// a resolved tier.
const SkipNoTier = "no_tier_resolved"

// errNoStorage is recorded when cleanup is required but no storage is wired.
var errNoStorage = errors.New("no object storage configured")

// FinalizationSummary reports what the finalizer did with each resource.
// A key appears in at most one of Deleted, Archived, Retained, Errors.
type FinalizationSummary struct {
	Tier     PrivacyTier `json:"tier,omitempty"`
	Skipped  bool        `json:"skipped,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Deleted  []string    `json:"deleted"`
	Archived []string    `json:"archived"`
	Retained []string    `json:"retained"`
	Errors   []string    `json:"errors"`
	Redacted []string    `json:"redacted,omitempty"`
}

// RedactionMarker replaces transcribe outputs after a GHOST-tier run.
func RedactionMarker() map[string]any {
	return map[string]any{
		"redacted": true,
		"policy":   string(TierGhost),
	}
}

// Finalizer applies the tier's retention policy to a run's evidence:
//
//   - GHOST: delete every resource and redact transcribe outputs
//   - STANDARD: delete audio resources, retain the rest
//   - LEGACY: move audio resources to cold storage, retain the rest
//
// Storage failures are collected into the summary, never returned.
type Finalizer struct {
	storage ObjectStorage
}

// NewFinalizer creates a finalizer over storage. A nil storage records
// every required action as an error.
func NewFinalizer(storage ObjectStorage) *Finalizer {
	return &Finalizer{storage: storage}
}

// Finalize applies the retention policy for ec's resolved tier.
func (f *Finalizer) Finalize(ctx context.Context, ec *ExecutionContext) FinalizationSummary {
	tier, ok := ec.Tier()
	if !ok {
		capitan.Emit(ctx, FinalizeSkipped,
			FieldTraceID.Field(ec.TraceID),
			FieldReason.Field(SkipNoTier),
		)
		return FinalizationSummary{Skipped: true, Reason: SkipNoTier}
	}

	summary := FinalizationSummary{
		Tier:     tier,
		Deleted:  []string{},
		Archived: []string{},
		Retained: []string{},
		Errors:   []string{},
	}

	resources := ec.Evidence()
	for _, key := range ec.EvidenceKeys() {
		uri := resources[key]
		switch {
		case tier == TierGhost:
			f.remove(ctx, ec, tier, key, uri, &summary)
		case tier == TierStandard && IsAudio(key):
			f.remove(ctx, ec, tier, key, uri, &summary)
		case tier == TierLegacy && IsAudio(key):
			f.archive(ctx, ec, tier, key, uri, &summary)
		default:
			summary.Retained = append(summary.Retained, key)
		}
	}

	if tier == TierGhost && ec.HasStage(StepTranscribe) {
		ec.ReplaceOutputs(StepTranscribe, RedactionMarker())
		summary.Redacted = append(summary.Redacted, StepTranscribe)
	}

	return summary
}

func (f *Finalizer) remove(ctx context.Context, ec *ExecutionContext, tier PrivacyTier, key, uri string, summary *FinalizationSummary) {
	err := errNoStorage
	if f.storage != nil {
		err = f.storage.Delete(ctx, uri)
	}
	if err != nil {
		f.fail(ctx, ec, tier, key, err, summary)
		return
	}
	summary.Deleted = append(summary.Deleted, key)
	capitan.Emit(ctx, EvidenceDeleted,
		FieldTraceID.Field(ec.TraceID),
		FieldResourceKey.Field(key),
		FieldResourceKind.Field(KindOf(key).String()),
		FieldTier.Field(tier.String()),
	)
}

func (f *Finalizer) archive(ctx context.Context, ec *ExecutionContext, tier PrivacyTier, key, uri string, summary *FinalizationSummary) {
	err := errNoStorage
	if f.storage != nil {
		err = f.storage.MoveToCold(ctx, uri)
	}
	if err != nil {
		f.fail(ctx, ec, tier, key, err, summary)
		return
	}
	summary.Archived = append(summary.Archived, key)
	capitan.Emit(ctx, EvidenceArchived,
		FieldTraceID.Field(ec.TraceID),
		FieldResourceKey.Field(key),
		FieldResourceKind.Field(KindOf(key).String()),
		FieldTier.Field(tier.String()),
	)
}

func (f *Finalizer) fail(ctx context.Context, ec *ExecutionContext, tier PrivacyTier, key string, err error, summary *FinalizationSummary) {
	summary.Errors = append(summary.Errors, key)
	capitan.Error(ctx, EvidenceFailed,
		FieldTraceID.Field(ec.TraceID),
		FieldResourceKey.Field(key),
		FieldResourceKind.Field(KindOf(key).String()),
		FieldTier.Field(tier.String()),
		FieldError.Field(visibleError(tier, err)),
	)
}
