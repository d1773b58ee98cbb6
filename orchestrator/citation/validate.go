// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package citation

import "fmt"

// OverlapKind classifies how two citation spans overlap.
type OverlapKind string

const (
	OverlapIdentical   OverlapKind = "identical"
	OverlapContainment OverlapKind = "containment"
	OverlapPartial     OverlapKind = "partial"
)

// IndexProblem describes a citation with indices outside the text or with
// an inverted span.
type IndexProblem struct {
	Citation int    `json:"citation"`
	Reason   string `json:"reason"`
}

// OverlapPair describes two citations whose spans overlap.
type OverlapPair struct {
	First  int         `json:"first"`
	Second int         `json:"second"`
	Kind   OverlapKind `json:"kind"`
}

// ValidationReport is the diagnostic output of ValidateCitations. It never
// causes runtime failure; callers use it in tests and integrity checks.
type ValidationReport struct {
	IndexProblems []IndexProblem `json:"index_problems,omitempty"`
	Overlaps      []OverlapPair  `json:"overlaps,omitempty"`
}

// Valid reports whether no index problems were found. Overlaps are legal
// and do not affect validity.
func (r *ValidationReport) Valid() bool {
	return len(r.IndexProblems) == 0
}

// ValidateCitations checks a set of citations against the answer text,
// reporting out-of-range or inverted spans and classifying every
// overlapping pair.
func ValidateCitations(text string, citations []Citation) *ValidationReport {
	report := &ValidationReport{}

	for i, c := range citations {
		switch {
		case c.StartIndex < 0:
			report.IndexProblems = append(report.IndexProblems, IndexProblem{
				Citation: i,
				Reason:   fmt.Sprintf("start_index %d is negative", c.StartIndex),
			})
		case c.EndIndex < c.StartIndex:
			report.IndexProblems = append(report.IndexProblems, IndexProblem{
				Citation: i,
				Reason:   fmt.Sprintf("end_index %d precedes start_index %d", c.EndIndex, c.StartIndex),
			})
		case c.EndIndex > len(text):
			report.IndexProblems = append(report.IndexProblems, IndexProblem{
				Citation: i,
				Reason:   fmt.Sprintf("end_index %d exceeds text length %d", c.EndIndex, len(text)),
			})
		}
	}

	for i := 0; i < len(citations); i++ {
		for j := i + 1; j < len(citations); j++ {
			if kind, ok := classifyOverlap(citations[i], citations[j]); ok {
				report.Overlaps = append(report.Overlaps, OverlapPair{
					First:  i,
					Second: j,
					Kind:   kind,
				})
			}
		}
	}

	return report
}

// classifyOverlap reports whether two spans overlap and how.
func classifyOverlap(a, b Citation) (OverlapKind, bool) {
	// Disjoint (touching endpoints do not count as overlap).
	if a.EndIndex <= b.StartIndex || b.EndIndex <= a.StartIndex {
		return "", false
	}
	if a.StartIndex == b.StartIndex && a.EndIndex == b.EndIndex {
		return OverlapIdentical, true
	}
	if (a.StartIndex <= b.StartIndex && a.EndIndex >= b.EndIndex) ||
		(b.StartIndex <= a.StartIndex && b.EndIndex >= a.EndIndex) {
		return OverlapContainment, true
	}
	return OverlapPartial, true
}
