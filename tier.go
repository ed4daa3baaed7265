package cortex

import (
	"errors"
	"fmt"
	"strings"
)

// PrivacyTier controls how long raw evidence is retained after processing.
// Tiers are ordered by restrictiveness: GHOST < STANDARD < LEGACY, where
// GHOST retains the least.
type PrivacyTier string

// Privacy tiers.
const (
	TierGhost    PrivacyTier = "GHOST"
	TierStandard PrivacyTier = "STANDARD"
	TierLegacy   PrivacyTier = "LEGACY"
)

// ErrInvalidTier is returned when a tier string does not name a known tier.
var ErrInvalidTier = errors.New("invalid privacy tier")

// rank orders tiers by retention; lower is more restrictive.
func (t PrivacyTier) rank() int {
	switch t {
	case TierGhost:
		return 0
	case TierStandard:
		return 1
	case TierLegacy:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is one of the known tiers.
func (t PrivacyTier) Valid() bool {
	return t.rank() >= 0
}

// MoreRestrictiveThan reports whether t retains less evidence than other.
func (t PrivacyTier) MoreRestrictiveThan(other PrivacyTier) bool {
	return t.rank() < other.rank()
}

// String implements fmt.Stringer.
func (t PrivacyTier) String() string {
	return string(t)
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (PrivacyTier, error) {
	t := PrivacyTier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so tiers decode from
// YAML and JSON documents in any case.
func (t *PrivacyTier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TierPtr returns a pointer to t, for optional tier fields.
func TierPtr(t PrivacyTier) *PrivacyTier {
	return &t
}
