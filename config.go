package cortex

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/zoobzio/zyn"
)

// Default configuration for the engine.
// These can be overridden at process start, before any run begins.
var (
	// DefaultCountryTier applies when an organization's country code has no
	// entry in the resolver's country table.
	DefaultCountryTier = TierLegacy

	// DefaultTriageRiskLevel is what triage reports when it cannot assess
	// risk. MEDIUM routes the entry to human review without paging anyone.
	DefaultTriageRiskLevel = RiskMedium

	// DefaultReasoningTemperature is used by SynapseProvider when a stage
	// does not specify one.
	DefaultReasoningTemperature float32 = zyn.DefaultTemperatureDeterministic

	// DefaultStageTimeout bounds stages whose config sets no timeout.
	// Zero means no limit.
	DefaultStageTimeout time.Duration

	// DefaultRetryDelay is the base backoff delay for stages with retries.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultSwitchRefreshInterval is the TrafficSwitch.Watch poll period
	// when none is given.
	DefaultSwitchRefreshInterval = 30 * time.Second
)

// StageConfig configures one stage of a pipeline.
type StageConfig struct {
	StepType  string `yaml:"step_type" json:"step_type"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	PromptKey string `yaml:"prompt_key,omitempty" json:"prompt_key,omitempty"`

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retries is the number of extra attempts after a failure.
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// Stages is an ordered stage list. It is stored as a JSON document column.
type Stages []StageConfig

// Scan implements sql.Scanner.
func (s *Stages) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}

	raw, err := scanBytes(src, "Stages")
	if err != nil {
		return err
	}
	var out []StageConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*s = Stages(out)
	return nil
}

// Value implements driver.Valuer.
func (s Stages) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// PipelineConfig is a declarative pipeline definition. It is owned by an
// external store and read-only to the engine.
type PipelineConfig struct {
	Name          string       `yaml:"name" json:"name"`
	InputModality string       `yaml:"input_modality" json:"input_modality"`
	Stages        Stages       `yaml:"stages" json:"stages"`
	RequiredTier  *PrivacyTier `yaml:"required_tier,omitempty" json:"required_tier,omitempty"`
	IsActive      bool         `yaml:"is_active" json:"is_active"`
}

// ConfigStore supplies pipeline definitions and the traffic-switch policy.
type ConfigStore interface {
	// LoadPipeline returns the named pipeline, or nil if none exists.
	LoadPipeline(ctx context.Context, name string) (*PipelineConfig, error)

	// LoadSwitchPolicy returns the current traffic-switch policy.
	LoadSwitchPolicy(ctx context.Context) (*SwitchPolicy, error)
}
