package cortex

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/zyn"
)

// LLM is a zyn-compatible language model client.
type LLM interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

// SynapseProvider implements Provider on top of zyn synapses. Multimodal
// resources are passed to the model by locator; the model (or its gateway)
// dereferences them.
//
// Every call fires on a fresh zyn.Session, so nothing from one run leaks
// into the conversation state of another.
type SynapseProvider struct {
	llm         LLM
	temperature float32
}

// NewSynapseProvider wraps llm.
func NewSynapseProvider(llm LLM) *SynapseProvider {
	return &SynapseProvider{
		llm:         llm,
		temperature: DefaultReasoningTemperature,
	}
}

// WithTemperature sets the default temperature for calls that do not set one.
func (p *SynapseProvider) WithTemperature(temp float32) *SynapseProvider {
	p.temperature = temp
	return p
}

// Name returns the underlying model client's name.
func (p *SynapseProvider) Name() string {
	return p.llm.Name()
}

// Transcribe implements Provider.
func (p *SynapseProvider) Transcribe(ctx context.Context, uri string, opts Options) (*Transcription, error) {
	synapse, err := zyn.Extract[Transcription](
		describe(opts, "a verbatim transcript of the referenced audio recording, its duration in seconds and its language"),
		p.llm,
	)
	if err != nil {
		return nil, fmt.Errorf("transcribe: failed to create extract synapse: %w", err)
	}

	result, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ExtractionInput{
		Text:        resourceInput("Audio recording", uri, opts),
		Temperature: p.temp(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: extract synapse execution failed: %w", err)
	}
	return &result, nil
}

// ExtractText implements Provider.
func (p *SynapseProvider) ExtractText(ctx context.Context, uri string, opts Options) (*Extraction, error) {
	synapse, err := zyn.Extract[Extraction](
		describe(opts, "all legible text in the referenced document or image, the document type and a confidence between 0 and 1"),
		p.llm,
	)
	if err != nil {
		return nil, fmt.Errorf("ocr: failed to create extract synapse: %w", err)
	}

	result, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ExtractionInput{
		Text:        resourceInput("Document", uri, opts),
		Temperature: p.temp(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: extract synapse execution failed: %w", err)
	}
	return &result, nil
}

// Analyze implements Provider.
func (p *SynapseProvider) Analyze(ctx context.Context, content string, opts Options) (*Analysis, error) {
	synapse, err := zyn.Extract[Analysis](
		describe(opts, "a structured clinical analysis with a summary, findings and an optional risk level"),
		p.llm,
	)
	if err != nil {
		return nil, fmt.Errorf("analyze: failed to create extract synapse: %w", err)
	}

	result, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ExtractionInput{
		Text:        content,
		Temperature: p.temp(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: extract synapse execution failed: %w", err)
	}
	return &result, nil
}

// AssessRisk implements Provider.
func (p *SynapseProvider) AssessRisk(ctx context.Context, content string, opts Options) (*RiskAssessment, error) {
	question := describe(opts, "What is the clinical risk level of this entry?")
	synapse, err := zyn.Classification(question, riskCategories(), p.llm)
	if err != nil {
		return nil, fmt.Errorf("triage: failed to create classification synapse: %w", err)
	}

	resp, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.ClassificationInput{
		Subject:     question,
		Context:     content,
		Temperature: p.temp(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("triage: classification synapse execution failed: %w", err)
	}

	level, err := ParseRiskLevel(resp.Primary)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	return &RiskAssessment{
		Level:      level,
		Confidence: float64(resp.Confidence),
		Reasoning:  resp.Reasoning,
	}, nil
}

func (p *SynapseProvider) temp(opts Options) float32 {
	if opts.Temperature != 0 {
		return opts.Temperature
	}
	return p.temperature
}

// describe prefers a configured prompt over the step's built-in description.
func describe(opts Options, fallback string) string {
	if strings.TrimSpace(opts.Prompt) != "" {
		return opts.Prompt
	}
	return fallback
}

func resourceInput(label, uri string, opts Options) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(uri)
	if opts.Model != "" {
		b.WriteString("\nModel: ")
		b.WriteString(opts.Model)
	}
	if opts.Ephemeral {
		b.WriteString("\nRetention: do not store this resource or its content.")
	}
	return b.String()
}

var _ Provider = (*SynapseProvider)(nil)
