package cortex

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// GlobalScope is the scope key of the global switch row.
const GlobalScope = "*"

// PipelineRecord is the pipelines table row.
type PipelineRecord struct {
	Name          string  `db:"name" type:"text" constraints:"primarykey"`
	InputModality string  `db:"input_modality" type:"text" constraints:"notnull"`
	Stages        Stages  `db:"stages" type:"jsonb" default:"'[]'"`
	RequiredTier  *string `db:"required_tier" type:"text"`
	IsActive      bool    `db:"is_active" type:"boolean" constraints:"notnull" default:"true"`
}

// SwitchRecord is one scope of the switch policy. Scope is GlobalScope or a
// task type.
type SwitchRecord struct {
	Scope      string     `db:"scope" type:"text" constraints:"primarykey"`
	State      string     `db:"state" type:"text" constraints:"notnull"`
	Percentage int        `db:"percentage" type:"integer" constraints:"notnull" default:"0"`
	Allowlist  StringList `db:"allowlist" type:"jsonb" default:"'[]'"`
	Blocklist  StringList `db:"blocklist" type:"jsonb" default:"'[]'"`
}

// PatientRecord is the patients table row.
type PatientRecord struct {
	ID                  string  `db:"id" type:"uuid" constraints:"primarykey"`
	PrivacyTierOverride *string `db:"privacy_tier_override" type:"text"`
}

// OrganizationRecord is the organizations table row.
type OrganizationRecord struct {
	ID                 string  `db:"id" type:"uuid" constraints:"primarykey"`
	DefaultPrivacyTier *string `db:"default_privacy_tier" type:"text"`
	CountryCode        string  `db:"country_code" type:"text" constraints:"notnull"`
}

// ResultRecord is the pipeline_results table row. Outputs is null for
// GHOST-tier runs.
type ResultRecord struct {
	RunID           string    `db:"run_id" type:"text" constraints:"primarykey"`
	Pipeline        string    `db:"pipeline" type:"text" constraints:"notnull"`
	PatientID       string    `db:"patient_id" type:"uuid" constraints:"notnull"`
	OrganizationID  string    `db:"organization_id" type:"uuid" constraints:"notnull"`
	ClinicalEntryID *string   `db:"clinical_entry_id" type:"uuid"`
	Tier            string    `db:"tier" type:"text" constraints:"notnull"`
	TierSource      string    `db:"tier_source" type:"text" constraints:"notnull"`
	Outputs         JSONDoc   `db:"outputs" type:"jsonb"`
	Finalization    JSONDoc   `db:"finalization" type:"jsonb" constraints:"notnull"`
	StageCount      int       `db:"stage_count" type:"integer" constraints:"notnull"`
	StartedAt       time.Time `db:"started_at" type:"timestamp" constraints:"notnull"`
	ElapsedMS       int64     `db:"elapsed_ms" type:"bigint" constraints:"notnull"`
}

// StringList is a string slice stored as a JSON array.
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	raw, err := scanBytes(src, "StringList")
	if err != nil {
		return err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = StringList(out)
	return nil
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// JSONDoc is a raw JSON document column. Nil stores SQL null.
type JSONDoc []byte

// Scan implements sql.Scanner.
func (d *JSONDoc) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}
	raw, err := scanBytes(src, "JSONDoc")
	if err != nil {
		return err
	}
	*d = append(JSONDoc(nil), raw...)
	return nil
}

// Value implements driver.Valuer.
func (d JSONDoc) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return []byte(d), nil
}

func scanBytes(src any, target string) ([]byte, error) {
	switch val := src.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("cannot scan %T into %s", src, target)
	}
}

// SoyStore implements ConfigStore, Directory and ResultStore over
// PostgreSQL using soy.
type SoyStore struct {
	pipelines     *soy.Soy[PipelineRecord]
	switches      *soy.Soy[SwitchRecord]
	patients      *soy.Soy[PatientRecord]
	organizations *soy.Soy[OrganizationRecord]
	results       *soy.Soy[ResultRecord]
	db            *sqlx.DB
}

// NewSoyStore creates a soy-backed store.
func NewSoyStore(db *sqlx.DB) (*SoyStore, error) {
	renderer := postgres.New()

	pipelines, err := soy.New[PipelineRecord](db, "pipelines", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipelines table: %w", err)
	}
	switches, err := soy.New[SwitchRecord](db, "switch_policies", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize switch_policies table: %w", err)
	}
	patients, err := soy.New[PatientRecord](db, "patients", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize patients table: %w", err)
	}
	organizations, err := soy.New[OrganizationRecord](db, "organizations", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize organizations table: %w", err)
	}
	results, err := soy.New[ResultRecord](db, "pipeline_results", renderer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline_results table: %w", err)
	}

	return &SoyStore{
		pipelines:     pipelines,
		switches:      switches,
		patients:      patients,
		organizations: organizations,
		results:       results,
		db:            db,
	}, nil
}

// LoadPipeline implements ConfigStore.
func (s *SoyStore) LoadPipeline(ctx context.Context, name string) (*PipelineConfig, error) {
	rows, err := s.pipelines.Query().
		Where("name", "=", "name").
		Limit(1).
		Exec(ctx, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	cfg := &PipelineConfig{
		Name:          row.Name,
		InputModality: row.InputModality,
		Stages:        row.Stages,
		IsActive:      row.IsActive,
	}
	if row.RequiredTier != nil {
		tier, err := ParseTier(*row.RequiredTier)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		cfg.RequiredTier = &tier
	}
	return cfg, nil
}

// SavePipeline inserts a pipeline definition.
func (s *SoyStore) SavePipeline(ctx context.Context, cfg PipelineConfig) error {
	row := &PipelineRecord{
		Name:          cfg.Name,
		InputModality: cfg.InputModality,
		Stages:        cfg.Stages,
		IsActive:      cfg.IsActive,
	}
	if cfg.RequiredTier != nil {
		t := cfg.RequiredTier.String()
		row.RequiredTier = &t
	}
	if _, err := s.pipelines.Insert().Exec(ctx, row); err != nil {
		return fmt.Errorf("failed to insert pipeline: %w", err)
	}
	return nil
}

// SetPipelineActive enables or disables a pipeline.
func (s *SoyStore) SetPipelineActive(ctx context.Context, name string, active bool) error {
	_, err := s.pipelines.Modify().
		Set("is_active", "is_active").
		Where("name", "=", "name").
		Exec(ctx, map[string]any{"is_active": active, "name": name})
	if err != nil {
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
	return nil
}

// DeletePipeline removes a pipeline definition.
func (s *SoyStore) DeletePipeline(ctx context.Context, name string) error {
	_, err := s.pipelines.Remove().
		Where("name", "=", "name").
		Exec(ctx, map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}

// LoadSwitchPolicy implements ConfigStore. It returns nil when no global
// row exists.
func (s *SoyStore) LoadSwitchPolicy(ctx context.Context) (*SwitchPolicy, error) {
	rows, err := s.switches.Query().
		OrderBy("scope", "asc").
		Exec(ctx, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to load switch policy: %w", err)
	}

	var policy SwitchPolicy
	found := false
	for _, row := range rows {
		var state SwitchState
		if err := state.UnmarshalText([]byte(row.State)); err != nil {
			return nil, fmt.Errorf("switch scope %s: %w", row.Scope, err)
		}
		cfg := SwitchConfig{
			State:      state,
			Percentage: row.Percentage,
			Allowlist:  []string(row.Allowlist),
			Blocklist:  []string(row.Blocklist),
		}
		if row.Scope == GlobalScope {
			policy.Global = cfg
			found = true
			continue
		}
		if policy.Tasks == nil {
			policy.Tasks = make(map[string]SwitchConfig)
		}
		policy.Tasks[row.Scope] = cfg
	}
	if !found {
		return nil, nil
	}
	return &policy, nil
}

// SaveSwitchPolicy replaces every stored scope with p in one transaction.
func (s *SoyStore) SaveSwitchPolicy(ctx context.Context, p SwitchPolicy) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin switch policy save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.switches.Remove().
		WhereNotNull("scope").
		ExecTx(ctx, tx, map[string]any{}); err != nil {
		return fmt.Errorf("failed to clear switch policy: %w", err)
	}

	if err = s.insertScope(ctx, tx, GlobalScope, p.Global); err != nil {
		return err
	}
	for task, cfg := range p.Tasks {
		if err = s.insertScope(ctx, tx, task, cfg); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit switch policy: %w", err)
	}
	return nil
}

func (s *SoyStore) insertScope(ctx context.Context, tx *sqlx.Tx, scope string, cfg SwitchConfig) error {
	row := &SwitchRecord{
		Scope:      scope,
		State:      string(cfg.State),
		Percentage: cfg.Percentage,
		Allowlist:  StringList(cfg.Allowlist),
		Blocklist:  StringList(cfg.Blocklist),
	}
	if _, err := s.switches.Insert().ExecTx(ctx, tx, row); err != nil {
		return fmt.Errorf("failed to insert switch scope %s: %w", scope, err)
	}
	return nil
}

// Patient implements Directory.
func (s *SoyStore) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	rows, err := s.patients.Query().
		Where("id", "=", "id").
		Limit(1).
		Exec(ctx, map[string]any{"id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("patient %s: %w", id, ErrSubjectNotFound)
	}

	p := &Patient{ID: id}
	if rows[0].PrivacyTierOverride != nil {
		p.PrivacyTierOverride = storedTier(*rows[0].PrivacyTierOverride)
	}
	return p, nil
}

// Organization implements Directory.
func (s *SoyStore) Organization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	rows, err := s.organizations.Query().
		Where("id", "=", "id").
		Limit(1).
		Exec(ctx, map[string]any{"id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("organization %s: %w", id, ErrSubjectNotFound)
	}

	o := &Organization{ID: id, CountryCode: rows[0].CountryCode}
	if rows[0].DefaultPrivacyTier != nil {
		o.DefaultPrivacyTier = storedTier(*rows[0].DefaultPrivacyTier)
	}
	return o, nil
}

// storedTier keeps an unparseable stored value as-is; the resolver treats
// invalid tiers as unset and falls through the waterfall.
func storedTier(s string) *PrivacyTier {
	if t, err := ParseTier(s); err == nil {
		return &t
	}
	t := PrivacyTier(s)
	return &t
}

// SavePatient inserts a patient record.
func (s *SoyStore) SavePatient(ctx context.Context, p Patient) error {
	row := &PatientRecord{ID: p.ID.String(), PrivacyTierOverride: tierString(p.PrivacyTierOverride)}
	if _, err := s.patients.Insert().Exec(ctx, row); err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

// SaveOrganization inserts an organization record.
func (s *SoyStore) SaveOrganization(ctx context.Context, o Organization) error {
	row := &OrganizationRecord{
		ID:                 o.ID.String(),
		DefaultPrivacyTier: tierString(o.DefaultPrivacyTier),
		CountryCode:        o.CountryCode,
	}
	if _, err := s.organizations.Insert().Exec(ctx, row); err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

func tierString(t *PrivacyTier) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

// RecordResult implements ResultStore.
func (s *SoyStore) RecordResult(ctx context.Context, result *PipelineResult) error {
	row, err := resultRecord(result)
	if err != nil {
		return err
	}
	if _, err := s.results.Insert().Exec(ctx, row); err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetResult loads a recorded result by run ID.
func (s *SoyStore) GetResult(ctx context.Context, runID string) (*ResultRecord, error) {
	rows, err := s.results.Query().
		Where("run_id", "=", "run_id").
		Limit(1).
		Exec(ctx, map[string]any{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// DeleteResult removes a recorded result.
func (s *SoyStore) DeleteResult(ctx context.Context, runID string) error {
	_, err := s.results.Remove().
		Where("run_id", "=", "run_id").
		Exec(ctx, map[string]any{"run_id": runID})
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

func resultRecord(r *PipelineResult) (*ResultRecord, error) {
	finalization, err := json.Marshal(r.Finalization)
	if err != nil {
		return nil, fmt.Errorf("failed to encode finalization: %w", err)
	}
	row := &ResultRecord{
		RunID:          r.RunID,
		Pipeline:       r.Pipeline,
		PatientID:      r.PatientID.String(),
		OrganizationID: r.OrganizationID.String(),
		Tier:           r.Tier.String(),
		TierSource:     string(r.TierSource),
		Finalization:   finalization,
		StageCount:     r.StageCount,
		StartedAt:      r.StartedAt,
		ElapsedMS:      r.Elapsed.Milliseconds(),
	}
	if r.ClinicalEntryID != nil {
		id := r.ClinicalEntryID.String()
		row.ClinicalEntryID = &id
	}
	if r.Outputs != nil && !r.Ephemeral() {
		outputs, err := json.Marshal(r.Outputs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode outputs: %w", err)
		}
		row.Outputs = outputs
	}
	return row, nil
}

// Close closes the underlying database connection.
func (s *SoyStore) Close() error {
	return s.db.Close()
}

var (
	_ ConfigStore = (*SoyStore)(nil)
	_ Directory   = (*SoyStore)(nil)
	_ ResultStore = (*SoyStore)(nil)
	_ ConfigStore = (*FileStore)(nil)
	_ Directory   = (*FileStore)(nil)
)
