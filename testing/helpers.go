// Package cortextest provides test utilities for cortex.
package cortextest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/zoobzio/cortex"
)

// MockProvider implements cortex.Provider with canned results. Any func
// field left nil returns a fixed default.
type MockProvider struct {
	TranscribeFunc  func(ctx context.Context, uri string, opts cortex.Options) (*cortex.Transcription, error)
	ExtractTextFunc func(ctx context.Context, uri string, opts cortex.Options) (*cortex.Extraction, error)
	AnalyzeFunc     func(ctx context.Context, content string, opts cortex.Options) (*cortex.Analysis, error)
	AssessRiskFunc  func(ctx context.Context, content string, opts cortex.Options) (*cortex.RiskAssessment, error)

	mu    sync.Mutex
	calls []string
}

// NewMockProvider creates a provider returning default results.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Calls returns the method names called, in order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}

// Transcribe implements cortex.Provider.
func (m *MockProvider) Transcribe(ctx context.Context, uri string, opts cortex.Options) (*cortex.Transcription, error) {
	m.record("Transcribe")
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, uri, opts)
	}
	return &cortex.Transcription{Transcript: "patient reports improved mood", DurationSeconds: 42, Language: "en"}, nil
}

// ExtractText implements cortex.Provider.
func (m *MockProvider) ExtractText(ctx context.Context, uri string, opts cortex.Options) (*cortex.Extraction, error) {
	m.record("ExtractText")
	if m.ExtractTextFunc != nil {
		return m.ExtractTextFunc(ctx, uri, opts)
	}
	return &cortex.Extraction{Text: "Referral for follow-up", DocumentType: "referral", Confidence: 0.9}, nil
}

// Analyze implements cortex.Provider.
func (m *MockProvider) Analyze(ctx context.Context, content string, opts cortex.Options) (*cortex.Analysis, error) {
	m.record("Analyze")
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, content, opts)
	}
	return &cortex.Analysis{
		Summary:  "Patient reports improved mood.",
		Findings: map[string]any{"subjective": "improved mood"},
	}, nil
}

// AssessRisk implements cortex.Provider.
func (m *MockProvider) AssessRisk(ctx context.Context, content string, opts cortex.Options) (*cortex.RiskAssessment, error) {
	m.record("AssessRisk")
	if m.AssessRiskFunc != nil {
		return m.AssessRiskFunc(ctx, content, opts)
	}
	return &cortex.RiskAssessment{Level: cortex.RiskLow, Confidence: 0.8, Reasoning: []string{"no risk indicators"}}, nil
}

// MockStorage implements cortex.ObjectStorage in memory. URIs listed in
// Fail return an error.
type MockStorage struct {
	Fail map[string]error

	mu       sync.Mutex
	deleted  []string
	archived []string
}

// NewMockStorage creates an empty storage mock.
func NewMockStorage() *MockStorage {
	return &MockStorage{Fail: make(map[string]error)}
}

// Delete implements cortex.ObjectStorage.
func (m *MockStorage) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[uri]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, uri)
	return nil
}

// MoveToCold implements cortex.ObjectStorage.
func (m *MockStorage) MoveToCold(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[uri]; err != nil {
		return err
	}
	m.archived = append(m.archived, uri)
	return nil
}

// Deleted returns the deleted URIs, in order.
func (m *MockStorage) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Archived returns the archived URIs, in order.
func (m *MockStorage) Archived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.archived...)
}

// MemoryStore implements cortex.ConfigStore, cortex.Directory and
// cortex.ResultStore in memory.
type MemoryStore struct {
	mu            sync.RWMutex
	pipelines     map[string]cortex.PipelineConfig
	policy        *cortex.SwitchPolicy
	patients      map[uuid.UUID]cortex.Patient
	organizations map[uuid.UUID]cortex.Organization
	results       []*cortex.PipelineResult
	recordErr     error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:     make(map[string]cortex.PipelineConfig),
		patients:      make(map[uuid.UUID]cortex.Patient),
		organizations: make(map[uuid.UUID]cortex.Organization),
	}
}

// PutPipeline adds or replaces a pipeline.
func (m *MemoryStore) PutPipeline(cfg cortex.PipelineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[cfg.Name] = cfg
}

// PutSwitchPolicy sets the switch policy.
func (m *MemoryStore) PutSwitchPolicy(p cortex.SwitchPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = &p
}

// PutPatient adds a patient to the directory.
func (m *MemoryStore) PutPatient(p cortex.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

// PutOrganization adds an organization to the directory.
func (m *MemoryStore) PutOrganization(o cortex.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.organizations[o.ID] = o
}

// FailRecords makes RecordResult return err.
func (m *MemoryStore) FailRecords(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordErr = err
}

// LoadPipeline implements cortex.ConfigStore.
func (m *MemoryStore) LoadPipeline(_ context.Context, name string) (*cortex.PipelineConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.pipelines[name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// LoadSwitchPolicy implements cortex.ConfigStore.
func (m *MemoryStore) LoadSwitchPolicy(_ context.Context) (*cortex.SwitchPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.policy == nil {
		return nil, nil
	}
	cp := *m.policy
	return &cp, nil
}

// Patient implements cortex.Directory.
func (m *MemoryStore) Patient(_ context.Context, id uuid.UUID) (*cortex.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, cortex.ErrSubjectNotFound)
	}
	return &p, nil
}

// Organization implements cortex.Directory.
func (m *MemoryStore) Organization(_ context.Context, id uuid.UUID) (*cortex.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.organizations[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, cortex.ErrSubjectNotFound)
	}
	return &o, nil
}

// RecordResult implements cortex.ResultStore.
func (m *MemoryStore) RecordResult(_ context.Context, result *cortex.PipelineResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.results = append(m.results, result)
	return nil
}

// Results returns the recorded results, in order.
func (m *MemoryStore) Results() []*cortex.PipelineResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*cortex.PipelineResult(nil), m.results...)
}

var (
	_ cortex.Provider      = (*MockProvider)(nil)
	_ cortex.ObjectStorage = (*MockStorage)(nil)
	_ cortex.ConfigStore   = (*MemoryStore)(nil)
	_ cortex.Directory     = (*MemoryStore)(nil)
	_ cortex.ResultStore   = (*MemoryStore)(nil)
)

// ClinicalSOAPPipeline returns the intake, analyze, triage pipeline.
func ClinicalSOAPPipeline() cortex.PipelineConfig {
	return cortex.PipelineConfig{
		Name:          "clinical_soap_v1",
		InputModality: "text",
		IsActive:      true,
		Stages: cortex.Stages{
			{StepType: cortex.StepIntake},
			{StepType: cortex.StepAnalyze, PromptKey: "analyze.soap"},
			{StepType: cortex.StepTriage, PromptKey: "triage.standard"},
		},
	}
}

// SessionPipeline returns the transcribe, analyze, triage pipeline.
func SessionPipeline() cortex.PipelineConfig {
	return cortex.PipelineConfig{
		Name:          "session_audio_v1",
		InputModality: "audio",
		IsActive:      true,
		Stages: cortex.Stages{
			{StepType: cortex.StepTranscribe, PromptKey: "transcribe.verbatim"},
			{StepType: cortex.StepAnalyze, PromptKey: "analyze.summary"},
			{StepType: cortex.StepTriage},
		},
	}
}

// NewPatient returns a patient with an optional tier override.
func NewPatient(override *cortex.PrivacyTier) cortex.Patient {
	return cortex.Patient{ID: uuid.New(), PrivacyTierOverride: override}
}

// NewOrganization returns an organization in country with an optional default.
func NewOrganization(country string, def *cortex.PrivacyTier) cortex.Organization {
	return cortex.Organization{ID: uuid.New(), CountryCode: country, DefaultPrivacyTier: def}
}

// NewTestOrchestrator wires an orchestrator over a fresh MemoryStore holding
// the built-in fixture pipelines.
func NewTestOrchestrator(t *testing.T) (*cortex.Orchestrator, *MemoryStore, *MockProvider, *MockStorage) {
	t.Helper()
	store := NewMemoryStore()
	store.PutPipeline(ClinicalSOAPPipeline())
	store.PutPipeline(SessionPipeline())

	provider := NewMockProvider()
	storage := NewMockStorage()
	o := cortex.NewOrchestrator(store).
		WithProvider(provider).
		WithStorage(storage).
		WithRegistry(cortex.NewBuiltinRegistry()).
		WithDirectory(store).
		WithResultStore(store)
	return o, store, provider, storage
}

// RequireOutput asserts that result holds want at stage.key.
func RequireOutput(t *testing.T, result *cortex.PipelineResult, stage, key string, want any) {
	t.Helper()
	got, ok := result.Output(stage, key)
	if !ok {
		t.Fatalf("expected output %s.%s, found none", stage, key)
	}
	if got != want {
		t.Fatalf("expected output %s.%s = %v, got %v", stage, key, want, got)
	}
}

// RequireStepError asserts that err carries a StepExecutionError for stepType.
func RequireStepError(t *testing.T, err error, stepType string) *cortex.StepExecutionError {
	t.Helper()
	var stepErr *cortex.StepExecutionError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepExecutionError, got %T: %v", err, err)
	}
	if stepErr.StepType != stepType {
		t.Fatalf("expected step type %q, got %q", stepType, stepErr.StepType)
	}
	return stepErr
}
