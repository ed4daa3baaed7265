package cortex

import (
	"fmt"
	"sync"
)

// Prompts maps prompt keys referenced by stage configs to prompt text.
type Prompts struct {
	entries map[string]string
	mu      sync.RWMutex
}

// defaultPrompts seed every catalog created with NewPrompts.
var defaultPrompts = map[string]string{
	"transcribe.verbatim": "A verbatim transcript of the clinical session recording, " +
		"its duration in seconds and its spoken language as an ISO 639-1 code.",
	"ocr.clinical_document": "All legible text in the clinical document, its document type " +
		"(referral, lab_result, prescription, intake_form, other) and a confidence between 0 and 1.",
	"analyze.soap": "A SOAP-structured clinical note: findings keyed subjective, objective, " +
		"assessment and plan, a one-paragraph summary, and a risk level if one is evident.",
	"analyze.summary": "A concise clinical summary of the material with any notable findings.",
	"triage.standard": "What is the clinical risk level of this entry, considering self-harm, " +
		"harm to others, medical emergencies and deterioration?",
}

// NewPrompts creates a catalog holding the default prompts.
func NewPrompts() *Prompts {
	p := &Prompts{entries: make(map[string]string, len(defaultPrompts))}
	for k, v := range defaultPrompts {
		p.entries[k] = v
	}
	return p
}

// Set adds or replaces a prompt.
func (p *Prompts) Set(key, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = text
}

// Resolve returns the prompt for key. An empty key resolves to an empty
// prompt, letting the provider use its own default.
func (p *Prompts) Resolve(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if p == nil {
		return "", fmt.Errorf("unknown prompt key %q", key)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	text, ok := p.entries[key]
	if !ok {
		return "", fmt.Errorf("unknown prompt key %q", key)
	}
	return text, nil
}
