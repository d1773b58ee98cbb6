// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"regexp"
	"strings"
	"time"

	"researchflow/platform/orchestrator/search"
)

// SourceClass buckets a gathered source by provenance.
type SourceClass string

const (
	ClassGrounding SourceClass = "grounding"
	ClassCustomWeb SourceClass = "custom_web"
	ClassKeyed     SourceClass = "keyed"
	ClassKeyless   SourceClass = "keyless"
	ClassKnowledge SourceClass = "knowledge_base_fallback"
	ClassUnknown   SourceClass = "unknown"
)

// classScores is the single source of truth for per-class quality. The
// graduated filter and the quality summary both read from it.
var classScores = map[SourceClass]float64{
	ClassGrounding: 1.0,
	ClassCustomWeb: 0.9,
	ClassKeyed:     0.8,
	ClassKeyless:   0.6,
	ClassKnowledge: 0.3,
	ClassUnknown:   0.5,
}

// QualityScores are the six sub-scores plus their fixed linear combination.
// All sub-scores except ResponseTimeSec are in [0,1].
type QualityScores struct {
	Completeness      float64 `json:"completeness"`
	SourceAttribution float64 `json:"source_attribution"`
	ContentRelevance  float64 `json:"content_relevance"`
	FormatConsistency float64 `json:"format_consistency"`
	ErrorRate         float64 `json:"error_rate"`
	ResponseTimeSec   float64 `json:"response_time_seconds"`
	Overall           float64 `json:"overall"`
}

// QualityReport is the full validator output for one research response.
type QualityReport struct {
	Scores        QualityScores `json:"scores"`
	HasRealSearch bool          `json:"has_real_search"`
	HasFallback   bool          `json:"has_fallback"`
	SourceClasses []SourceClass `json:"source_classes"`
}

// SourceQualitySummary reports the outcome of graduated source filtering.
type SourceQualitySummary struct {
	Total        int     `json:"total"`
	Included     int     `json:"included"`
	Filtered     int     `json:"filtered"`
	AverageScore float64 `json:"average_score"`
	Threshold    float64 `json:"threshold"`
}

var (
	citationMarkerRe = regexp.MustCompile(`\[\d+\]\(https?://[^)]+\)`)
	wordTokenRe      = regexp.MustCompile(`[a-zA-Z0-9]{3,}`)
	sentenceEndRe    = regexp.MustCompile(`[.!?]+`)
)

// Explanatory connectives counted by the completeness sub-score.
var connectives = []string{
	"because", "therefore", "however", "furthermore",
	"consequently", "for example", "in addition", "as a result",
}

// Error-indicator tokens counted by the error-rate sub-score.
var errorIndicators = []string{
	"error", "failed", "unavailable", "could not", "unable to",
	"no results found",
}

// Placeholder domains that mark a source as unusable.
var placeholderDomains = []string{
	"example.com", "example.org", "localhost", "placeholder",
}

// Keywords expected in an answer per interrogative pronoun.
var interrogativeKeywords = map[string][]string{
	"what":  {"is", "are", "refers", "defined", "means"},
	"who":   {"is", "was", "were", "founded", "created"},
	"when":  {"in", "on", "year", "date", "since"},
	"where": {"in", "at", "located", "near", "region"},
	"why":   {"because", "due", "reason", "since", "caused"},
	"how":   {"by", "through", "steps", "process", "using"},
}

// QualityValidator scores completed research responses and classifies
// their sources. It is stateless and safe for concurrent use.
type QualityValidator struct{}

// NewQualityValidator creates the validator.
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{}
}

// Evaluate produces the full quality report for a completed response.
func (v *QualityValidator) Evaluate(question string, result *ResearchResult, responseTime time.Duration) QualityReport {
	report := QualityReport{}
	if result == nil {
		return report
	}

	report.Scores.Completeness = v.scoreCompleteness(result.FinalAnswer)
	report.Scores.SourceAttribution = v.scoreAttribution(result.FinalAnswer, result.Sources)
	report.Scores.ContentRelevance = v.scoreRelevance(question, result.FinalAnswer)
	report.Scores.FormatConsistency = v.scoreFormat(result)
	report.Scores.ErrorRate = v.scoreErrorRate(result.FinalAnswer, result.Sources)
	report.Scores.ResponseTimeSec = responseTime.Seconds()

	report.Scores.Overall = 0.30*report.Scores.Completeness +
		0.25*report.Scores.SourceAttribution +
		0.25*report.Scores.ContentRelevance +
		0.10*report.Scores.FormatConsistency +
		0.10*(1-report.Scores.ErrorRate)

	for _, s := range result.Sources {
		class := ClassifySource(s)
		report.SourceClasses = append(report.SourceClasses, class)
		switch class {
		case ClassGrounding, ClassCustomWeb, ClassKeyed, ClassKeyless:
			report.HasRealSearch = true
		case ClassKnowledge:
			report.HasFallback = true
		}
	}

	return report
}

// ClassifySource assigns a provenance class from the source tag, falling
// back to URL host heuristics when the tag is absent.
func ClassifySource(s TaggedSource) SourceClass {
	switch s.SourceTag {
	case search.SourceTagGrounding:
		return ClassGrounding
	case search.SourceTagCustomWeb:
		return ClassCustomWeb
	case search.SourceTagKeyed:
		return ClassKeyed
	case search.SourceTagKeyless:
		return ClassKeyless
	case search.SourceTagKnowledge:
		return ClassKnowledge
	}

	host := strings.ToLower(s.URL)
	switch {
	case strings.Contains(host, "vertexaisearch") || strings.Contains(host, "googleusercontent"):
		return ClassGrounding
	case strings.Contains(host, "duckduckgo"):
		return ClassKeyless
	default:
		return ClassUnknown
	}
}

// FilterSources applies graduated filtering: sources whose class score is
// below the threshold are set aside. A zero threshold keeps everything.
func (v *QualityValidator) FilterSources(sources []TaggedSource, threshold float64) ([]TaggedSource, *SourceQualitySummary) {
	summary := &SourceQualitySummary{
		Total:     len(sources),
		Threshold: threshold,
	}

	var retained []TaggedSource
	var scoreSum float64
	for _, s := range sources {
		score := classScores[ClassifySource(s)]
		scoreSum += score
		if threshold > 0 && score < threshold {
			summary.Filtered++
			continue
		}
		retained = append(retained, s)
	}
	summary.Included = len(retained)
	if summary.Total > 0 {
		summary.AverageScore = scoreSum / float64(summary.Total)
	}
	return retained, summary
}

// scoreCompleteness combines answer length (saturating near 500 chars),
// sentence count (saturating near 3), and connective usage.
func (v *QualityValidator) scoreCompleteness(answer string) float64 {
	if answer == "" {
		return 0
	}

	lengthScore := clamp01(float64(len(answer)) / 500.0)

	sentences := len(sentenceEndRe.FindAllString(answer, -1))
	sentenceScore := clamp01(float64(sentences) / 3.0)

	lower := strings.ToLower(answer)
	connectiveCount := 0
	for _, c := range connectives {
		connectiveCount += strings.Count(lower, c)
	}
	connectiveScore := clamp01(float64(connectiveCount) / 2.0)

	return 0.5*lengthScore + 0.3*sentenceScore + 0.2*connectiveScore
}

// scoreAttribution combines citation-marker density against the source
// count with the fraction of source URLs literally present in the answer.
func (v *QualityValidator) scoreAttribution(answer string, sources []TaggedSource) float64 {
	if len(sources) == 0 {
		return 0
	}

	markers := len(citationMarkerRe.FindAllString(answer, -1))
	markerScore := clamp01(float64(markers) / float64(len(sources)))

	present := 0
	for _, s := range sources {
		if s.URL != "" && strings.Contains(answer, s.URL) {
			present++
		}
	}
	urlScore := float64(present) / float64(len(sources))

	return 0.6*markerScore + 0.4*urlScore
}

// scoreRelevance measures token overlap between question and answer, with
// a bonus when the interrogative pronoun is addressed.
func (v *QualityValidator) scoreRelevance(question, answer string) float64 {
	qTokens := tokenSet(question)
	aTokens := tokenSet(answer)
	if len(qTokens) == 0 || len(aTokens) == 0 {
		return 0
	}

	overlap := 0
	for tok := range qTokens {
		if aTokens[tok] {
			overlap++
		}
	}
	jaccard := float64(overlap) / float64(len(qTokens))

	bonus := 0.0
	qLower := strings.ToLower(question)
	aLower := strings.ToLower(answer)
	for pronoun, keywords := range interrogativeKeywords {
		if !strings.HasPrefix(qLower, pronoun) && !strings.Contains(qLower, " "+pronoun+" ") {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(aLower, kw) {
				bonus = 0.2
				break
			}
		}
		break
	}

	return clamp01(0.8*jaccard + bonus)
}

// scoreFormat checks that the response carries its required fields.
func (v *QualityValidator) scoreFormat(result *ResearchResult) float64 {
	score := 0.0
	if result.FinalAnswer != "" {
		score += 0.4
	}
	if result.Sources != nil {
		score += 0.3
	}
	if result.LoopsExecuted >= 0 {
		score += 0.15
	}
	if result.TotalQueries >= 0 {
		score += 0.15
	}
	return score
}

// scoreErrorRate counts error-indicator tokens in the answer and
// placeholder-domain sources, normalized to [0,1].
func (v *QualityValidator) scoreErrorRate(answer string, sources []TaggedSource) float64 {
	lower := strings.ToLower(answer)
	indicators := 0
	for _, token := range errorIndicators {
		indicators += strings.Count(lower, token)
	}

	placeholders := 0
	for _, s := range sources {
		for _, domain := range placeholderDomains {
			if strings.Contains(strings.ToLower(s.URL), domain) {
				placeholders++
				break
			}
		}
	}

	return clamp01(float64(indicators)/5.0 + float64(placeholders)/4.0)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range wordTokenRe.FindAllString(strings.ToLower(s), -1) {
		set[tok] = true
	}
	return set
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
