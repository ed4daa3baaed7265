package cortex

import (
	"strings"

	"github.com/google/uuid"
)

// Patient is the subset of a patient record the engine reads.
type Patient struct {
	ID                  uuid.UUID    `yaml:"id" json:"id"`
	PrivacyTierOverride *PrivacyTier `yaml:"privacy_tier_override,omitempty" json:"privacy_tier_override,omitempty"`
}

// Organization is the subset of an organization record the engine reads.
type Organization struct {
	ID                 uuid.UUID    `yaml:"id" json:"id"`
	DefaultPrivacyTier *PrivacyTier `yaml:"default_privacy_tier,omitempty" json:"default_privacy_tier,omitempty"`
	CountryCode        string       `yaml:"country_code" json:"country_code"`
}

// TierSource names the waterfall level a tier was resolved from.
type TierSource string

// Tier sources, highest precedence first.
const (
	SourcePatientOverride     TierSource = "patient_override"
	SourceOrganizationDefault TierSource = "organization_default"
	SourceCountryDefault      TierSource = "country_default"
	SourceGlobalDefault       TierSource = "global_default"
)

// CountryTiers is the built-in country-code table. Keys are upper-case
// ISO 3166-1 alpha-2 codes.
var CountryTiers = map[string]PrivacyTier{
	"US": TierLegacy,
	"CA": TierStandard,
	"GB": TierStandard,
	"DE": TierGhost,
	"FR": TierStandard,
	"AT": TierGhost,
	"CH": TierGhost,
	"BR": TierStandard,
	"MX": TierStandard,
	"AU": TierStandard,
}

// Explanation is the audit view of one resolution.
type Explanation struct {
	Tier                PrivacyTier  `json:"resolved_tier"`
	Source              TierSource   `json:"source"`
	PatientOverride     *PrivacyTier `json:"patient_override"`
	OrganizationDefault *PrivacyTier `json:"organization_default"`
	CountryDefault      PrivacyTier  `json:"country_default"`
	CountryCode         string       `json:"country_code"`
}

// PrivacyResolver resolves a patient's effective tier through a waterfall:
// patient override, then organization default, then the country table,
// then the global default. It holds no mutable state.
type PrivacyResolver struct {
	countries     map[string]PrivacyTier
	globalDefault PrivacyTier
}

// NewPrivacyResolver creates a resolver over the built-in country table.
func NewPrivacyResolver() *PrivacyResolver {
	return NewPrivacyResolverWith(CountryTiers, DefaultCountryTier)
}

// NewPrivacyResolverWith creates a resolver over a custom table. Keys are
// normalized to upper case.
func NewPrivacyResolverWith(countries map[string]PrivacyTier, globalDefault PrivacyTier) *PrivacyResolver {
	table := make(map[string]PrivacyTier, len(countries))
	for code, tier := range countries {
		table[strings.ToUpper(strings.TrimSpace(code))] = tier
	}
	return &PrivacyResolver{countries: table, globalDefault: globalDefault}
}

// Resolve returns the effective tier. It cannot fail.
func (r *PrivacyResolver) Resolve(patient Patient, org Organization) PrivacyTier {
	return r.Explain(patient, org).Tier
}

// Explain returns the decision together with every candidate value.
// Resolve is defined in terms of Explain, so the two never disagree.
func (r *PrivacyResolver) Explain(patient Patient, org Organization) Explanation {
	code := strings.ToUpper(strings.TrimSpace(org.CountryCode))
	countryTier, known := r.countries[code]
	if !known {
		countryTier = r.globalDefault
	}

	exp := Explanation{
		PatientOverride:     validTier(patient.PrivacyTierOverride),
		OrganizationDefault: validTier(org.DefaultPrivacyTier),
		CountryDefault:      countryTier,
		CountryCode:         code,
	}

	switch {
	case exp.PatientOverride != nil:
		exp.Tier, exp.Source = *exp.PatientOverride, SourcePatientOverride
	case exp.OrganizationDefault != nil:
		exp.Tier, exp.Source = *exp.OrganizationDefault, SourceOrganizationDefault
	case known:
		exp.Tier, exp.Source = countryTier, SourceCountryDefault
	default:
		exp.Tier, exp.Source = countryTier, SourceGlobalDefault
	}
	return exp
}

// validTier drops unset and unrecognised values so they fall through.
func validTier(t *PrivacyTier) *PrivacyTier {
	if t == nil || !t.Valid() {
		return nil
	}
	v := *t
	return &v
}
