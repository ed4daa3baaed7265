package cortex

import (
	"context"
	"sync"
	"time"

	capitantesting "github.com/zoobzio/capitan/testing"
)

// mockProvider implements Provider with overridable behaviour.
type mockProvider struct {
	transcribe  func(ctx context.Context, uri string, opts Options) (*Transcription, error)
	extractText func(ctx context.Context, uri string, opts Options) (*Extraction, error)
	analyze     func(ctx context.Context, content string, opts Options) (*Analysis, error)
	assessRisk  func(ctx context.Context, content string, opts Options) (*RiskAssessment, error)

	mu       sync.Mutex
	calls    []string
	contents []string
	options  []Options
}

func newMockProvider() *mockProvider {
	return &mockProvider{}
}

func (m *mockProvider) record(method, content string, opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	m.contents = append(m.contents, content)
	m.options = append(m.options, opts)
}

func (m *mockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockProvider) lastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contents) == 0 {
		return ""
	}
	return m.contents[len(m.contents)-1]
}

func (m *mockProvider) lastOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return Options{}
	}
	return m.options[len(m.options)-1]
}

func (m *mockProvider) Transcribe(ctx context.Context, uri string, opts Options) (*Transcription, error) {
	m.record("Transcribe", uri, opts)
	if m.transcribe != nil {
		return m.transcribe(ctx, uri, opts)
	}
	return &Transcription{Transcript: "I have been sleeping better.", DurationSeconds: 61.5, Language: "en"}, nil
}

func (m *mockProvider) ExtractText(ctx context.Context, uri string, opts Options) (*Extraction, error) {
	m.record("ExtractText", uri, opts)
	if m.extractText != nil {
		return m.extractText(ctx, uri, opts)
	}
	return &Extraction{Text: "Referral: anxiety follow-up", DocumentType: "referral", Confidence: 0.93}, nil
}

func (m *mockProvider) Analyze(ctx context.Context, content string, opts Options) (*Analysis, error) {
	m.record("Analyze", content, opts)
	if m.analyze != nil {
		return m.analyze(ctx, content, opts)
	}
	return &Analysis{
		Summary:   "Patient reports improved mood.",
		RiskLevel: "low",
		Findings:  map[string]any{"subjective": "improved mood"},
	}, nil
}

func (m *mockProvider) AssessRisk(ctx context.Context, content string, opts Options) (*RiskAssessment, error) {
	m.record("AssessRisk", content, opts)
	if m.assessRisk != nil {
		return m.assessRisk(ctx, content, opts)
	}
	return &RiskAssessment{Level: RiskLow, Confidence: 0.82, Reasoning: []string{"no acute indicators"}}, nil
}

// mockStorage implements ObjectStorage in memory.
type mockStorage struct {
	fail     map[string]error
	mu       sync.Mutex
	deleted  []string
	archived []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{fail: make(map[string]error)}
}

func (m *mockStorage) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[uri]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, uri)
	return nil
}

func (m *mockStorage) MoveToCold(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[uri]; err != nil {
		return err
	}
	m.archived = append(m.archived, uri)
	return nil
}

func (m *mockStorage) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *mockStorage) Archived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.archived...)
}

// memStore implements ConfigStore and ResultStore in memory.
type memStore struct {
	mu        sync.Mutex
	pipelines map[string]PipelineConfig
	policy    *SwitchPolicy
	loadErr   error
	results   []*PipelineResult
	recordErr error
}

func newMemStore(pipelines ...PipelineConfig) *memStore {
	s := &memStore{pipelines: make(map[string]PipelineConfig)}
	for _, p := range pipelines {
		s.pipelines[p.Name] = p
	}
	return s
}

func (s *memStore) LoadPipeline(_ context.Context, name string) (*PipelineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	p, ok := s.pipelines[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) LoadSwitchPolicy(_ context.Context) (*SwitchPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.policy == nil {
		return nil, nil
	}
	cp := *s.policy
	return &cp, nil
}

func (s *memStore) RecordResult(_ context.Context, r *PipelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.results = append(s.results, r)
	return nil
}

func (s *memStore) Results() []*PipelineResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*PipelineResult(nil), s.results...)
}

func soapPipeline() PipelineConfig {
	return PipelineConfig{
		Name:          "clinical_soap_v1",
		InputModality: "text",
		IsActive:      true,
		Stages: Stages{
			{StepType: StepIntake},
			{StepType: StepAnalyze, PromptKey: "analyze.soap"},
			{StepType: StepTriage, PromptKey: "triage.standard"},
		},
	}
}

func sessionPipeline() PipelineConfig {
	return PipelineConfig{
		Name:          "session_audio_v1",
		InputModality: "audio",
		IsActive:      true,
		Stages: Stages{
			{StepType: StepTranscribe},
			{StepType: StepAnalyze},
			{StepType: StepTriage},
		},
	}
}

// getStringField extracts a string field value from a captured event.
func getStringField(event capitantesting.CapturedEvent, keyName string) string {
	for _, f := range event.Fields {
		if f.Key().Name() == keyName {
			if v, ok := f.Value().(string); ok {
				return v
			}
		}
	}
	return ""
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
