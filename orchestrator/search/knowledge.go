// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// knowledgeEntry maps a query pattern to a curated reference result. The
// table is ordered; the first matching pattern wins.
type knowledgeEntry struct {
	pattern *regexp.Regexp
	title   string
	url     string
	snippet string
}

// knowledgeTable holds the curated entries. Patterns are matched against
// the lowercased query.
var knowledgeTable = []knowledgeEntry{
	{
		pattern: regexp.MustCompile(`\bpython\b`),
		title:   "Python Programming Language",
		url:     "https://www.python.org",
		snippet: "Python is a high-level, general-purpose programming language emphasizing code readability.",
	},
	{
		pattern: regexp.MustCompile(`\bgolang\b|\bgo (language|programming)\b`),
		title:   "The Go Programming Language",
		url:     "https://go.dev",
		snippet: "Go is an open source programming language that makes it easy to build simple, reliable, and efficient software.",
	},
	{
		pattern: regexp.MustCompile(`\bjavascript\b|\bnode\.?js\b`),
		title:   "JavaScript | MDN",
		url:     "https://developer.mozilla.org/en-US/docs/Web/JavaScript",
		snippet: "JavaScript is a lightweight interpreted programming language with first-class functions, best known as the scripting language for web pages.",
	},
	{
		pattern: regexp.MustCompile(`\brust\b`),
		title:   "Rust Programming Language",
		url:     "https://www.rust-lang.org",
		snippet: "Rust is a language empowering everyone to build reliable and efficient software.",
	},
	{
		pattern: regexp.MustCompile(`\bkubernetes\b|\bk8s\b`),
		title:   "Kubernetes Documentation",
		url:     "https://kubernetes.io/docs",
		snippet: "Kubernetes is an open-source system for automating deployment, scaling, and management of containerized applications.",
	},
	{
		pattern: regexp.MustCompile(`\bdocker\b|\bcontainer`),
		title:   "Docker Documentation",
		url:     "https://docs.docker.com",
		snippet: "Docker is a platform for developing, shipping, and running applications in containers.",
	},
	{
		pattern: regexp.MustCompile(`\bmachine learning\b|\bneural network|\bdeep learning\b|\bartificial intelligence\b|\bai\b|\bllm\b`),
		title:   "Machine Learning | Wikipedia",
		url:     "https://en.wikipedia.org/wiki/Machine_learning",
		snippet: "Machine learning is a field of study in artificial intelligence concerned with statistical algorithms that learn from data.",
	},
	{
		pattern: regexp.MustCompile(`\bquantum\b`),
		title:   "Quantum Computing | Wikipedia",
		url:     "https://en.wikipedia.org/wiki/Quantum_computing",
		snippet: "A quantum computer exploits quantum mechanical phenomena to perform computation.",
	},
	{
		pattern: regexp.MustCompile(`\bclimate\b|\bglobal warming\b`),
		title:   "Climate Change | Wikipedia",
		url:     "https://en.wikipedia.org/wiki/Climate_change",
		snippet: "Climate change refers to long-term shifts in temperatures and weather patterns, primarily driven by human activities.",
	},
	{
		pattern: regexp.MustCompile(`\bdatabase\b|\bsql\b|\bpostgres`),
		title:   "PostgreSQL Documentation",
		url:     "https://www.postgresql.org/docs",
		snippet: "PostgreSQL is a powerful, open source object-relational database system with over 35 years of active development.",
	},
}

// KnowledgeProvider is the terminal cascade fallback. It matches the query
// against a curated pattern table and always returns at least one result,
// so a research request can complete even with every external provider
// down. Results are tagged so the quality validator can discount them.
type KnowledgeProvider struct{}

// NewKnowledgeProvider creates the fallback provider.
func NewKnowledgeProvider() *KnowledgeProvider {
	return &KnowledgeProvider{}
}

// Name returns the provider name.
func (p *KnowledgeProvider) Name() string {
	return "knowledge_base"
}

// IsAvailable always reports true; the provider has no dependencies.
func (p *KnowledgeProvider) IsAvailable() bool {
	return true
}

// Search matches the query against the curated table and returns the first
// matching entry's canned result; later matches are ignored. Unmatched
// queries get a generic encyclopedia pointer so the response is never empty.
func (p *KnowledgeProvider) Search(_ context.Context, query string, maxResults int) SearchResponse {
	lower := strings.ToLower(query)

	var results []SearchResult
	for _, entry := range knowledgeTable {
		if entry.pattern.MatchString(lower) {
			results = append(results, SearchResult{
				Title:     entry.title,
				URL:       entry.url,
				Snippet:   entry.snippet,
				SourceTag: SourceTagKnowledge,
			})
			break
		}
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	if len(results) == 0 {
		results = append(results, SearchResult{
			Title:     fmt.Sprintf("Search: %s", query),
			URL:       "https://en.wikipedia.org/wiki/Special:Search?search=" + strings.ReplaceAll(query, " ", "+"),
			Snippet:   fmt.Sprintf("General reference starting point for %q.", query),
			SourceTag: SourceTagKnowledge,
		})
	}

	return SearchResponse{
		Status:   StatusSuccess,
		Results:  results,
		Query:    query,
		Provider: p.Name(),
	}
}
