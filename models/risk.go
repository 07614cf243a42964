package models

import "strings"

// RiskLevel is the normalised risk of a finding.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
	RiskInfo   RiskLevel = "info"
)

// RiskLevels lists the recognised levels, most severe first.
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow, RiskInfo}

// Rank returns the sort weight used when ranking findings.
// Unrecognised levels rank below info.
func (r RiskLevel) Rank() int {
	switch r.Normalize() {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	case RiskInfo:
		return 0
	default:
		return -1
	}
}

// Normalize lower-cases and trims the level. It does not map aliases.
func (r RiskLevel) Normalize() RiskLevel {
	return RiskLevel(strings.ToLower(strings.TrimSpace(string(r))))
}

// Known reports whether r is one of the four recognised levels.
func (r RiskLevel) Known() bool {
	return r.Rank() >= 0
}

func (r RiskLevel) String() string {
	return string(r)
}

// MapRisk normalises scanner-specific risk strings. ZAP reports
// "Informational" for info alerts; everything else passes through lower-cased
// so unknown values stay visible to the histogram as unrecognised.
func MapRisk(raw string) RiskLevel {
	switch r := RiskLevel(raw).Normalize(); r {
	case "informational", "information":
		return RiskInfo
	default:
		return r
	}
}
