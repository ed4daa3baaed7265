package cortex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Provider is the AI capability consumed by steps. The engine treats it as
// opaque: every method takes a locator or text plus Options and returns a
// structured result.
type Provider interface {
	// Transcribe converts the audio at uri into text.
	Transcribe(ctx context.Context, uri string, opts Options) (*Transcription, error)

	// ExtractText reads text out of the image or document at uri.
	ExtractText(ctx context.Context, uri string, opts Options) (*Extraction, error)

	// Analyze produces a structured clinical analysis of content.
	Analyze(ctx context.Context, content string, opts Options) (*Analysis, error)

	// AssessRisk classifies content into a RiskLevel.
	AssessRisk(ctx context.Context, content string, opts Options) (*RiskAssessment, error)
}

// Options carry per-stage provider settings.
type Options struct {
	Model       string
	Prompt      string
	Temperature float32

	// Ephemeral asks the provider not to retain inputs or outputs beyond the
	// call. Set for GHOST-tier runs.
	Ephemeral bool
}

// Transcription is the result of Provider.Transcribe.
type Transcription struct {
	Transcript      string  `json:"transcript"`
	DurationSeconds float64 `json:"duration_seconds"`
	Language        string  `json:"language"`
}

// Validate implements zyn.Validator.
func (t Transcription) Validate() error {
	if strings.TrimSpace(t.Transcript) == "" {
		return errors.New("transcript required")
	}
	if t.DurationSeconds < 0 {
		return fmt.Errorf("negative duration: %v", t.DurationSeconds)
	}
	return nil
}

// Extraction is the result of Provider.ExtractText.
type Extraction struct {
	Text         string  `json:"extracted_text"`
	DocumentType string  `json:"document_type"`
	Confidence   float64 `json:"confidence"`
}

// Validate implements zyn.Validator.
func (e Extraction) Validate() error {
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence out of range: %v", e.Confidence)
	}
	return nil
}

// Analysis is the result of Provider.Analyze. RiskLevel and Summary are
// optional; Findings carries whatever structure the prompt asked for.
type Analysis struct {
	Summary   string         `json:"summary,omitempty"`
	RiskLevel string         `json:"risk_level,omitempty"`
	Findings  map[string]any `json:"findings,omitempty"`
}

// Validate implements zyn.Validator.
func (a Analysis) Validate() error {
	if a.Summary == "" && len(a.Findings) == 0 {
		return errors.New("analysis is empty")
	}
	if a.RiskLevel != "" {
		if _, err := ParseRiskLevel(a.RiskLevel); err != nil {
			return err
		}
	}
	return nil
}

// RiskAssessment is the result of Provider.AssessRisk.
type RiskAssessment struct {
	Level      RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`
	Reasoning  []string  `json:"reasoning,omitempty"`
}

// Context key for provider.
type providerKeyType struct{}

var providerKey = providerKeyType{}

// Global provider fallback.
var (
	globalProvider   Provider
	globalProviderMu sync.RWMutex
)

// ErrNoProvider is returned when no provider can be resolved.
var ErrNoProvider = errors.New("no provider configured: set via orchestrator, context, or global")

// SetProvider sets the global fallback provider.
func SetProvider(p Provider) {
	globalProviderMu.Lock()
	defer globalProviderMu.Unlock()
	globalProvider = p
}

// GetProvider returns the global provider, if set.
func GetProvider() Provider {
	globalProviderMu.RLock()
	defer globalProviderMu.RUnlock()
	return globalProvider
}

// WithProvider adds a provider to the context.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey, p)
}

// ProviderFromContext retrieves the provider from context, if present.
func ProviderFromContext(ctx context.Context) (Provider, bool) {
	p, ok := ctx.Value(providerKey).(Provider)
	return p, ok
}

// ResolveProvider picks a provider in order: explicit, context, global.
func ResolveProvider(ctx context.Context, explicit Provider) (Provider, error) {
	if explicit != nil {
		return explicit, nil
	}
	if p, ok := ProviderFromContext(ctx); ok && p != nil {
		return p, nil
	}

	globalProviderMu.RLock()
	p := globalProvider
	globalProviderMu.RUnlock()

	if p != nil {
		return p, nil
	}
	return nil, ErrNoProvider
}
