package cortex

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InputStage is the reserved output slot holding caller-supplied input data.
// Steps read it like any other stage's outputs.
const InputStage = "input"

// Role selects a read view over an ExecutionContext.
type Role string

// Payload roles.
const (
	// RolePerception sees resource locators and outputs. Intended for
	// components operating under a data-processing agreement.
	RolePerception Role = "perception"

	// RoleApplication sees outputs only.
	RoleApplication Role = "application"
)

// ErrUnknownRole is returned by SecurePayload for an unrecognised role.
var ErrUnknownRole = errors.New("unknown payload role")

// Payload is a role-scoped snapshot of an ExecutionContext.
type Payload struct {
	Role      Role                      `json:"role"`
	Resources map[string]string         `json:"resources,omitempty"`
	Outputs   map[string]map[string]any `json:"outputs"`
}

// ExecutionContext is the blackboard shared by every stage of one pipeline run.
// It holds the run's identity, a registry of evidence locators, and the
// outputs each stage has written so far.
//
// # Concurrency
//
// All methods are safe for concurrent use. Stages run sequentially, so the
// lock mostly guards against hosts reading a context while a run is live.
//
// # Evidence
//
// Evidence keys follow "{kind}:{name}" (e.g. "audio:session") and map to
// opaque locators, never raw bytes. AddEvidence refuses to overwrite an
// existing key; UpdateEvidence is the explicit overwrite.
type ExecutionContext struct {
	// Identity, immutable after construction.
	PatientID       uuid.UUID
	OrganizationID  uuid.UUID
	ClinicalEntryID *uuid.UUID
	TraceID         string
	CreatedAt       time.Time

	resources map[string]string
	tier      PrivacyTier
	outputs   map[string]map[string]any
	mu        sync.RWMutex
}

// NewExecutionContext creates an empty context for one run.
func NewExecutionContext(patientID, organizationID uuid.UUID, clinicalEntryID *uuid.UUID) *ExecutionContext {
	return &ExecutionContext{
		PatientID:       patientID,
		OrganizationID:  organizationID,
		ClinicalEntryID: clinicalEntryID,
		TraceID:         uuid.New().String(),
		CreatedAt:       time.Now(),
		resources:       make(map[string]string),
		outputs:         make(map[string]map[string]any),
	}
}

// AddEvidence registers a resource locator under key.
// Returns a *DuplicateResourceError if the key is already registered; the
// stored locator is left untouched.
func (ec *ExecutionContext) AddEvidence(key, uri string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if _, exists := ec.resources[key]; exists {
		return &DuplicateResourceError{Key: key}
	}
	ec.resources[key] = uri
	return nil
}

// UpdateEvidence inserts or overwrites the locator under key.
func (ec *ExecutionContext) UpdateEvidence(key, uri string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.resources[key] = uri
}

// GetEvidence returns the locator registered under key.
func (ec *ExecutionContext) GetEvidence(key string) (string, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	uri, ok := ec.resources[key]
	return uri, ok
}

// Evidence returns a copy of the resource registry.
func (ec *ExecutionContext) Evidence() map[string]string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	out := make(map[string]string, len(ec.resources))
	for k, v := range ec.resources {
		out[k] = v
	}
	return out
}

// EvidenceKeys returns the registered keys in sorted order.
func (ec *ExecutionContext) EvidenceKeys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	keys := make([]string, 0, len(ec.resources))
	for k := range ec.resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FindEvidence returns the first key, in sorted order, whose name contains
// any of the given fragments (case-insensitive).
func (ec *ExecutionContext) FindEvidence(fragments ...string) (key, uri string, ok bool) {
	return ec.FindEvidenceFunc(func(k string) bool {
		lower := strings.ToLower(k)
		for _, f := range fragments {
			if strings.Contains(lower, strings.ToLower(f)) {
				return true
			}
		}
		return false
	})
}

// FindEvidenceFunc returns the first key, in sorted order, accepted by match.
func (ec *ExecutionContext) FindEvidenceFunc(match func(key string) bool) (key, uri string, ok bool) {
	for _, k := range ec.EvidenceKeys() {
		if match(k) {
			v, _ := ec.GetEvidence(k)
			return k, v, true
		}
	}
	return "", "", false
}

// SetTier records the resolved privacy tier. It may be called once.
func (ec *ExecutionContext) SetTier(t PrivacyTier) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, t)
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.tier != "" {
		return ErrTierAlreadyResolved
	}
	ec.tier = t
	return nil
}

// Tier returns the resolved tier and whether one has been set.
func (ec *ExecutionContext) Tier() (PrivacyTier, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.tier, ec.tier != ""
}

// AddOutput writes a single output value for stage.
func (ec *ExecutionContext) AddOutput(stage, key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	m, ok := ec.outputs[stage]
	if !ok {
		m = make(map[string]any)
		ec.outputs[stage] = m
	}
	m[key] = value
}

// SetOutputs writes a complete set of outputs for stage under one lock.
// Steps use it so a stage's outputs appear all at once or not at all.
func (ec *ExecutionContext) SetOutputs(stage string, values map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	m, ok := ec.outputs[stage]
	if !ok {
		m = make(map[string]any, len(values))
		ec.outputs[stage] = m
	}
	for k, v := range values {
		m[k] = v
	}
}

// ReplaceOutputs discards everything stage wrote and stores values instead.
func (ec *ExecutionContext) ReplaceOutputs(stage string, values map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	ec.outputs[stage] = m
}

// LookupOutput returns the value stage wrote under key.
func (ec *ExecutionContext) LookupOutput(stage, key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	m, ok := ec.outputs[stage]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// GetOutput returns the value stage wrote under key, or def.
func (ec *ExecutionContext) GetOutput(stage, key string, def any) any {
	if v, ok := ec.LookupOutput(stage, key); ok {
		return v
	}
	return def
}

// GetString returns a non-empty string output.
func (ec *ExecutionContext) GetString(stage, key string) (string, bool) {
	v, ok := ec.LookupOutput(stage, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// HasStage reports whether stage has written any output.
func (ec *ExecutionContext) HasStage(stage string) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	m, ok := ec.outputs[stage]
	return ok && len(m) > 0
}

// StageOutputs returns a copy of one stage's outputs.
func (ec *ExecutionContext) StageOutputs(stage string) map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	m, ok := ec.outputs[stage]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Outputs returns a two-level copy of every stage's outputs.
func (ec *ExecutionContext) Outputs() map[string]map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.copyOutputs()
}

func (ec *ExecutionContext) copyOutputs() map[string]map[string]any {
	out := make(map[string]map[string]any, len(ec.outputs))
	for stage, m := range ec.outputs {
		inner := make(map[string]any, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[stage] = inner
	}
	return out
}

// SecurePayload returns the read view for role. The perception view carries
// resource locators; the application view strips them. Presenting a role is
// not an authorisation check: callers decide which role they may present.
func (ec *ExecutionContext) SecurePayload(role Role) (Payload, error) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	switch role {
	case RolePerception:
		resources := make(map[string]string, len(ec.resources))
		for k, v := range ec.resources {
			resources[k] = v
		}
		return Payload{Role: role, Resources: resources, Outputs: ec.copyOutputs()}, nil
	case RoleApplication:
		return Payload{Role: role, Outputs: ec.copyOutputs()}, nil
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}
