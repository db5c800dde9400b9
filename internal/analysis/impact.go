package analysis

import (
	"sort"

	"ctxpack/internal/graph"
)

// ImpactReport summarizes the units affected by a set of changed entries.
type ImpactReport struct {
	DirectlyAffected   []string
	IndirectlyAffected []string
}

// Analyzer performs impact analysis on a manifest.
type Analyzer struct {
	m *graph.Manifest
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(m *graph.Manifest) *Analyzer {
	return &Analyzer{m: m}
}

// AnalyzeImpact returns the changed entries still in the manifest, plus every
// transitive dependent of them.
func (a *Analyzer) AnalyzeImpact(changed []string) *ImpactReport {
	report := &ImpactReport{
		DirectlyAffected:   []string{},
		IndirectlyAffected: []string{},
	}

	seenDirect := make(map[string]bool)
	seenIndirect := make(map[string]bool)

	// 1. Direct
	for _, id := range changed {
		if a.m.Has(id) && !seenDirect[id] {
			seenDirect[id] = true
			report.DirectlyAffected = append(report.DirectlyAffected, id)
		}
	}

	// 2. Dependents, walked upward until nothing new appears
	queue := append([]string(nil), report.DirectlyAffected...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range a.m.GetDependents(cur) {
			if seenDirect[dep] || seenIndirect[dep] {
				continue
			}
			seenIndirect[dep] = true
			report.IndirectlyAffected = append(report.IndirectlyAffected, dep)
			queue = append(queue, dep)
		}
	}

	sort.Strings(report.DirectlyAffected)
	sort.Strings(report.IndirectlyAffected)
	return report
}
