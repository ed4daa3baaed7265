package cortex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PipelineResult is the durable record of a successful run. It is built
// once and not modified afterwards.
type PipelineResult struct {
	RunID           string                    `json:"run_id"`
	Pipeline        string                    `json:"pipeline"`
	PatientID       uuid.UUID                 `json:"patient_id"`
	OrganizationID  uuid.UUID                 `json:"organization_id"`
	ClinicalEntryID *uuid.UUID                `json:"clinical_entry_id,omitempty"`
	Tier            PrivacyTier               `json:"tier"`
	TierSource      TierSource                `json:"tier_source"`
	Outputs         map[string]map[string]any `json:"outputs"`
	Finalization    FinalizationSummary       `json:"finalization"`
	StageCount      int                       `json:"stage_count"`
	StartedAt       time.Time                 `json:"started_at"`
	Elapsed         time.Duration             `json:"elapsed"`
}

// Output returns one output value.
func (r *PipelineResult) Output(stage, key string) (any, bool) {
	m, ok := r.Outputs[stage]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Ephemeral reports whether the result's outputs must stay in process.
func (r *PipelineResult) Ephemeral() bool {
	return r.Tier == TierGhost
}

// persistable returns the copy handed to a ResultStore. GHOST results keep
// their metadata and finalization summary but never their outputs.
func (r *PipelineResult) persistable() *PipelineResult {
	cp := *r
	if r.Ephemeral() {
		cp.Outputs = nil
	}
	return &cp
}

// ResultStore receives the result of every successful run.
type ResultStore interface {
	RecordResult(ctx context.Context, result *PipelineResult) error
}
