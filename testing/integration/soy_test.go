//go:build integration

package integration_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zoobzio/cortex"
	cortextest "github.com/zoobzio/cortex/testing"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipelines (
	name TEXT PRIMARY KEY,
	input_modality TEXT NOT NULL,
	stages JSONB DEFAULT '[]',
	required_tier TEXT,
	is_active BOOLEAN NOT NULL DEFAULT true
);
CREATE TABLE IF NOT EXISTS switch_policies (
	scope TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	percentage INTEGER NOT NULL DEFAULT 0,
	allowlist JSONB DEFAULT '[]',
	blocklist JSONB DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS patients (
	id UUID PRIMARY KEY,
	privacy_tier_override TEXT
);
CREATE TABLE IF NOT EXISTS organizations (
	id UUID PRIMARY KEY,
	default_privacy_tier TEXT,
	country_code TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pipeline_results (
	run_id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	patient_id UUID NOT NULL,
	organization_id UUID NOT NULL,
	clinical_entry_id UUID,
	tier TEXT NOT NULL,
	tier_source TEXT NOT NULL,
	outputs JSONB,
	finalization JSONB NOT NULL,
	stage_count INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	elapsed_ms BIGINT NOT NULL
);
`

func getTestStore(t *testing.T) *cortex.SoyStore {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	store, err := cortex.NewSoyStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSoyStore_Pipelines(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	cfg := cortextest.ClinicalSOAPPipeline()
	cfg.Name = "it_" + uuid.NewString()
	cfg.RequiredTier = cortex.TierPtr(cortex.TierStandard)
	cfg.Stages[1].Timeout = 30 * time.Second

	if err := store.SavePipeline(ctx, cfg); err != nil {
		t.Fatalf("failed to save pipeline: %v", err)
	}
	defer func() { _ = store.DeletePipeline(ctx, cfg.Name) }()

	loaded, err := store.LoadPipeline(ctx, cfg.Name)
	if err != nil {
		t.Fatalf("failed to load pipeline: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected pipeline")
	}
	if len(loaded.Stages) != 3 || loaded.Stages[1].Timeout != 30*time.Second {
		t.Errorf("stages did not round-trip: %+v", loaded.Stages)
	}
	if loaded.RequiredTier == nil || *loaded.RequiredTier != cortex.TierStandard {
		t.Errorf("expected required tier STANDARD, got %v", loaded.RequiredTier)
	}

	if err := store.SetPipelineActive(ctx, cfg.Name, false); err != nil {
		t.Fatalf("failed to disable pipeline: %v", err)
	}
	loaded, _ = store.LoadPipeline(ctx, cfg.Name)
	if loaded.IsActive {
		t.Error("expected pipeline to be disabled")
	}

	missing, err := store.LoadPipeline(ctx, "it_missing_"+uuid.NewString())
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown pipeline, got %v (%v)", missing, err)
	}
}

func TestSoyStore_SwitchPolicy(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	policy := cortex.SwitchPolicy{
		Global: cortex.SwitchConfig{State: cortex.SwitchCanary, Percentage: 15, Allowlist: []string{"tenant-beta"}},
		Tasks: map[string]cortex.SwitchConfig{
			"transcribe": {State: cortex.SwitchOff, Blocklist: []string{"tenant-slow"}},
		},
	}
	if err := store.SaveSwitchPolicy(ctx, policy); err != nil {
		t.Fatalf("failed to save policy: %v", err)
	}

	loaded, err := store.LoadSwitchPolicy(ctx)
	if err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	if loaded == nil || loaded.Global.State != cortex.SwitchCanary || loaded.Global.Percentage != 15 {
		t.Fatalf("unexpected global scope %+v", loaded)
	}
	if got := loaded.Tasks["transcribe"].Blocklist; len(got) != 1 || got[0] != "tenant-slow" {
		t.Errorf("unexpected task blocklist %v", got)
	}

	ts := cortex.NewTrafficSwitch()
	if err := ts.Refresh(ctx, store); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !ts.ShouldUseNewEngine("tenant-beta", "summarize") {
		t.Error("allowlisted tenant should route to the new engine")
	}
	if ts.ShouldUseNewEngine("tenant-slow", "transcribe") {
		t.Error("blocklisted tenant should stay on legacy")
	}
}

func TestSoyStore_Directory(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	patient := cortextest.NewPatient(cortex.TierPtr(cortex.TierGhost))
	org := cortextest.NewOrganization("US", cortex.TierPtr(cortex.TierStandard))
	if err := store.SavePatient(ctx, patient); err != nil {
		t.Fatalf("failed to save patient: %v", err)
	}
	if err := store.SaveOrganization(ctx, org); err != nil {
		t.Fatalf("failed to save organization: %v", err)
	}

	p, err := store.Patient(ctx, patient.ID)
	if err != nil {
		t.Fatalf("failed to get patient: %v", err)
	}
	if p.PrivacyTierOverride == nil || *p.PrivacyTierOverride != cortex.TierGhost {
		t.Errorf("unexpected override %v", p.PrivacyTierOverride)
	}

	o, err := store.Organization(ctx, org.ID)
	if err != nil {
		t.Fatalf("failed to get organization: %v", err)
	}
	if o.CountryCode != "US" || o.DefaultPrivacyTier == nil {
		t.Errorf("unexpected organization %+v", o)
	}

	if _, err := store.Patient(ctx, uuid.New()); !errors.Is(err, cortex.ErrSubjectNotFound) {
		t.Errorf("expected ErrSubjectNotFound, got %v", err)
	}
}

func TestSoyStore_RunAndRecord(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	cfg := cortextest.SessionPipeline()
	cfg.Name = "it_" + uuid.NewString()
	if err := store.SavePipeline(ctx, cfg); err != nil {
		t.Fatalf("failed to save pipeline: %v", err)
	}
	defer func() { _ = store.DeletePipeline(ctx, cfg.Name) }()

	patient := cortextest.NewPatient(cortex.TierPtr(cortex.TierGhost))
	org := cortextest.NewOrganization("US", nil)
	_ = store.SavePatient(ctx, patient)
	_ = store.SaveOrganization(ctx, org)

	o := cortex.NewOrchestrator(store).
		WithProvider(cortextest.NewMockProvider()).
		WithStorage(cortextest.NewMockStorage()).
		WithRegistry(cortex.NewBuiltinRegistry()).
		WithDirectory(store).
		WithResultStore(store)

	result, err := o.RunPipelineByID(ctx, cfg.Name, patient.ID, org.ID,
		map[string]string{"audio": "s3://sessions/a.wav"}, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	defer func() { _ = store.DeleteResult(ctx, result.RunID) }()

	row, err := store.GetResult(ctx, result.RunID)
	if err != nil {
		t.Fatalf("failed to get result: %v", err)
	}
	if row == nil {
		t.Fatal("expected recorded result")
	}
	if row.Tier != string(cortex.TierGhost) {
		t.Errorf("expected GHOST tier, got %s", row.Tier)
	}
	if row.Outputs != nil {
		t.Error("GHOST outputs must not be persisted")
	}
}

func TestSoyStore_SwitchPolicyRollsBackOnFailedInsert(t *testing.T) {
	store := getTestStore(t)
	ctx := context.Background()

	before := cortex.SwitchPolicy{
		Global: cortex.SwitchConfig{State: cortex.SwitchRollout, Percentage: 40},
		Tasks: map[string]cortex.SwitchConfig{
			"transcribe": {State: cortex.SwitchOff},
		},
	}
	if err := store.SaveSwitchPolicy(ctx, before); err != nil {
		t.Fatalf("failed to save policy: %v", err)
	}

	// A task scope named like the global row collides on the primary key.
	broken := cortex.SwitchPolicy{
		Global: cortex.SwitchConfig{State: cortex.SwitchFull},
		Tasks: map[string]cortex.SwitchConfig{
			cortex.GlobalScope: {State: cortex.SwitchOff},
		},
	}
	if err := store.SaveSwitchPolicy(ctx, broken); err == nil {
		t.Fatal("expected save to fail on duplicate scope")
	}

	loaded, err := store.LoadSwitchPolicy(ctx)
	if err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	if loaded == nil || loaded.Global.State != cortex.SwitchRollout || loaded.Global.Percentage != 40 {
		t.Fatalf("expected previous global scope to survive, got %+v", loaded)
	}
	if got, ok := loaded.Tasks["transcribe"]; !ok || got.State != cortex.SwitchOff {
		t.Errorf("expected previous task scope to survive, got %+v", loaded.Tasks)
	}
}
