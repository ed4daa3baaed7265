package cortex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/zoobzio/zyn"
)

// scriptedLLM returns a canned response and records the prompts it saw.
type scriptedLLM struct {
	content string
	err     error

	mu           sync.Mutex
	prompts      []string
	temperatures []float32
}

func (m *scriptedLLM) Call(_ context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error) {
	m.mu.Lock()
	if len(messages) > 0 {
		m.prompts = append(m.prompts, messages[len(messages)-1].Content)
	}
	m.temperatures = append(m.temperatures, temperature)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return &zyn.ProviderResponse{
		Content: m.content,
		Usage:   zyn.TokenUsage{Prompt: 10, Completion: 20, Total: 30},
	}, nil
}

func (m *scriptedLLM) Name() string {
	return "scripted"
}

func (m *scriptedLLM) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func TestSynapseProviderTranscribe(t *testing.T) {
	llm := &scriptedLLM{content: `{"transcript": "I slept well this week.", "duration_seconds": 42.5, "language": "en"}`}
	p := NewSynapseProvider(llm)

	result, err := p.Transcribe(context.Background(), "s3://sessions/a.wav", Options{Ephemeral: true})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Transcript != "I slept well this week." || result.DurationSeconds != 42.5 || result.Language != "en" {
		t.Errorf("unexpected transcription %+v", result)
	}

	prompt := llm.lastPrompt()
	if !strings.Contains(prompt, "s3://sessions/a.wav") {
		t.Error("expected resource locator in prompt")
	}
	if !strings.Contains(prompt, "do not store") {
		t.Error("expected retention notice for ephemeral calls")
	}
}

func TestSynapseProviderExtractText(t *testing.T) {
	llm := &scriptedLLM{content: `{"extracted_text": "Referral for CBT", "document_type": "referral", "confidence": 0.9}`}
	p := NewSynapseProvider(llm)

	result, err := p.ExtractText(context.Background(), "s3://docs/r.pdf", Options{Model: "vision-large"})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if result.Text != "Referral for CBT" || result.DocumentType != "referral" {
		t.Errorf("unexpected extraction %+v", result)
	}
	if !strings.Contains(llm.lastPrompt(), "vision-large") {
		t.Error("expected model hint in prompt")
	}
}

func TestSynapseProviderAnalyze(t *testing.T) {
	llm := &scriptedLLM{content: `{"summary": "Improving.", "risk_level": "low", "findings": {"plan": "continue"}}`}
	p := NewSynapseProvider(llm)

	result, err := p.Analyze(context.Background(), "## Direct Input\nfeeling better", Options{Prompt: "SOAP note please"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result.Summary != "Improving." || result.Findings["plan"] != "continue" {
		t.Errorf("unexpected analysis %+v", result)
	}
	if !strings.Contains(llm.lastPrompt(), "SOAP note please") {
		t.Error("configured prompt should replace the default description")
	}
}

func TestSynapseProviderAnalyzeRejectsInvalid(t *testing.T) {
	llm := &scriptedLLM{content: `{"summary": "", "findings": {}}`}
	if _, err := NewSynapseProvider(llm).Analyze(context.Background(), "text", Options{}); err == nil {
		t.Fatal("expected validation failure for empty analysis")
	}
}

func TestSynapseProviderAssessRisk(t *testing.T) {
	llm := &scriptedLLM{content: `{"primary": "HIGH", "secondary": "MEDIUM", "confidence": 0.8, "reasoning": ["expressed hopelessness"]}`}
	p := NewSynapseProvider(llm).WithTemperature(0.2)

	result, err := p.AssessRisk(context.Background(), "summary text", Options{})
	if err != nil {
		t.Fatalf("AssessRisk failed: %v", err)
	}
	if result.Level != RiskHigh {
		t.Errorf("expected HIGH, got %s", result.Level)
	}
	if len(result.Reasoning) != 1 {
		t.Errorf("expected reasoning carried over, got %v", result.Reasoning)
	}

	llm.mu.Lock()
	temp := llm.temperatures[len(llm.temperatures)-1]
	llm.mu.Unlock()
	if temp != 0.2 {
		t.Errorf("expected provider temperature 0.2, got %v", temp)
	}
}

func TestSynapseProviderPropagatesErrors(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	p := NewSynapseProvider(llm)

	if _, err := p.Transcribe(context.Background(), "s3://b/a.wav", Options{}); err == nil {
		t.Error("expected Transcribe error")
	}
	if _, err := p.AssessRisk(context.Background(), "x", Options{}); err == nil {
		t.Error("expected AssessRisk error")
	}
	if p.Name() != "scripted" {
		t.Errorf("expected name passthrough, got %q", p.Name())
	}
}
