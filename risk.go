package cortex

import (
	"fmt"
	"strings"
)

// RiskLevel is the triage outcome for a clinical entry.
type RiskLevel string

// Risk levels, least to most severe.
const (
	RiskNone     RiskLevel = "NONE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevels lists every level in ascending severity.
var RiskLevels = []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}

// ParseRiskLevel parses a level name case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range RiskLevels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("invalid risk level %q", s)
}

func riskCategories() []string {
	out := make([]string, len(RiskLevels))
	for i, l := range RiskLevels {
		out[i] = string(l)
	}
	return out
}
