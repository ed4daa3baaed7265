package cortex

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileDocument is the YAML layout read by FileStore.
//
//	pipelines:
//	  - name: clinical_soap_v1
//	    input_modality: text
//	    is_active: true
//	    stages:
//	      - step_type: intake
//	      - step_type: analyze
//	        prompt_key: analyze.soap
//	        timeout: 30s
//	        retries: 2
//	      - step_type: triage
//	switch:
//	  global: {state: CANARY, percentage: 10}
//	prompts:
//	  analyze.brief: "A two-sentence summary."
type FileDocument struct {
	Pipelines     []PipelineConfig  `yaml:"pipelines"`
	Switch        *SwitchPolicy     `yaml:"switch,omitempty"`
	Prompts       map[string]string `yaml:"prompts,omitempty"`
	Patients      []Patient         `yaml:"patients,omitempty"`
	Organizations []Organization    `yaml:"organizations,omitempty"`
}

// FileStore serves pipeline definitions, the switch policy and an optional
// subject directory from a parsed YAML document. It is immutable after load.
type FileStore struct {
	pipelines     map[string]PipelineConfig
	policy        *SwitchPolicy
	prompts       map[string]string
	patients      map[uuid.UUID]Patient
	organizations map[uuid.UUID]Organization
}

// LoadFileStore reads and parses a YAML config file.
func LoadFileStore(path string) (*FileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseFileStore(raw)
}

// ParseFileStore parses a YAML config document.
func ParseFileStore(input []byte) (*FileStore, error) {
	var doc FileDocument
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return NewFileStore(doc)
}

// NewFileStore validates doc and builds a store from it.
func NewFileStore(doc FileDocument) (*FileStore, error) {
	fs := &FileStore{
		pipelines:     make(map[string]PipelineConfig, len(doc.Pipelines)),
		policy:        doc.Switch,
		prompts:       doc.Prompts,
		patients:      make(map[uuid.UUID]Patient, len(doc.Patients)),
		organizations: make(map[uuid.UUID]Organization, len(doc.Organizations)),
	}

	for i, p := range doc.Pipelines {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("pipelines[%d].name is required", i)
		}
		if _, dup := fs.pipelines[name]; dup {
			return nil, fmt.Errorf("pipelines[%d].name must be unique (duplicate %q)", i, name)
		}
		for j, st := range p.Stages {
			if strings.TrimSpace(st.StepType) == "" {
				return nil, fmt.Errorf("pipelines[%d].stages[%d].step_type is required", i, j)
			}
			if st.Retries < 0 {
				return nil, fmt.Errorf("pipelines[%d].stages[%d].retries must not be negative", i, j)
			}
		}
		p.Name = name
		fs.pipelines[name] = p
	}

	if fs.policy != nil {
		if err := fs.policy.Validate(); err != nil {
			return nil, fmt.Errorf("switch: %w", err)
		}
	}
	for _, p := range doc.Patients {
		fs.patients[p.ID] = p
	}
	for _, o := range doc.Organizations {
		fs.organizations[o.ID] = o
	}
	return fs, nil
}

// LoadPipeline implements ConfigStore.
func (fs *FileStore) LoadPipeline(_ context.Context, name string) (*PipelineConfig, error) {
	p, ok := fs.pipelines[name]
	if !ok {
		return nil, nil
	}
	p.Stages = append(Stages(nil), p.Stages...)
	if p.RequiredTier != nil {
		p.RequiredTier = TierPtr(*p.RequiredTier)
	}
	return &p, nil
}

// LoadSwitchPolicy implements ConfigStore. It returns nil when the document
// has no switch section.
func (fs *FileStore) LoadSwitchPolicy(_ context.Context) (*SwitchPolicy, error) {
	if fs.policy == nil {
		return nil, nil
	}
	cp := fs.policy.Clone()
	return &cp, nil
}

// Patient implements Directory.
func (fs *FileStore) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := fs.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrSubjectNotFound)
	}
	return &p, nil
}

// Organization implements Directory.
func (fs *FileStore) Organization(_ context.Context, id uuid.UUID) (*Organization, error) {
	o, ok := fs.organizations[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, ErrSubjectNotFound)
	}
	return &o, nil
}

// ApplyPrompts copies the document's prompts into catalog.
func (fs *FileStore) ApplyPrompts(catalog *Prompts) {
	for k, v := range fs.prompts {
		catalog.Set(k, v)
	}
}
