// Package aggregate merges scanner and analysis findings into one result.
// Everything here is pure: inputs are never mutated and outputs share no
// slices with inputs.
package aggregate

import (
	"slices"
	"time"

	"github.com/CosmoTheDev/zapmcp/models"
)

// DefaultTopN is used when a non-positive n is passed to TopN or Merge.
const DefaultTopN = 5

// Merge unions both finding sets without deduplication. Findings from
// different backends are never treated as equivalent, even with equal names.
func Merge(scanID string, scannerFindings, analysisFindings []models.Finding, topN int, now time.Time) models.MergedResult {
	sf := tag(scannerFindings, models.SourceScanner)
	af := tag(analysisFindings, models.SourceAnalysis)

	all := make([]models.Finding, 0, len(sf)+len(af))
	all = append(all, sf...)
	all = append(all, af...)

	return models.MergedResult{
		ScanID:           scanID,
		ScannerFindings:  sf,
		AnalysisFindings: af,
		Histogram:        Histogram(all),
		Total:            len(all),
		UniqueNames:      UniqueNames(all),
		Top:              TopN(all, topN),
		CompletedAt:      now.UTC(),
	}
}

// Histogram counts findings per recognised risk level. All four levels are
// always present. Unrecognised levels are left out, so the counts may sum to
// less than len(findings).
func Histogram(findings []models.Finding) map[models.RiskLevel]int {
	h := make(map[models.RiskLevel]int, len(models.RiskLevels))
	for _, lvl := range models.RiskLevels {
		h[lvl] = 0
	}
	for _, f := range findings {
		lvl := f.Risk.Normalize()
		if _, ok := h[lvl]; ok {
			h[lvl]++
		}
	}
	return h
}

// TopN returns up to n findings ordered by risk rank, highest first. Ties
// keep their input order.
func TopN(findings []models.Finding, n int) []models.Finding {
	if n <= 0 {
		n = DefaultTopN
	}
	sorted := models.CloneFindings(findings)
	if sorted == nil {
		sorted = []models.Finding{}
	}
	slices.SortStableFunc(sorted, func(a, b models.Finding) int {
		return b.Risk.Rank() - a.Risk.Rank()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// UniqueNames counts distinct finding names.
func UniqueNames(findings []models.Finding) int {
	seen := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		seen[f.Name] = struct{}{}
	}
	return len(seen)
}

func tag(in []models.Finding, source string) []models.Finding {
	out := models.CloneFindings(in)
	if out == nil {
		return []models.Finding{}
	}
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = source
		}
	}
	return out
}
