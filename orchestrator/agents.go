// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchflow/platform/orchestrator/citation"
)

// QueryGenerator produces the initial search queries for a research topic.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, topic string, count int, date string) ([]string, error)
}

// Reflection is the outcome of the reflection agent: whether the gathered
// research answers the topic, and if not, what to search next.
type Reflection struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// Reflector judges the accumulated research summaries.
type Reflector interface {
	Reflect(ctx context.Context, topic string, summaries []string) (Reflection, error)
}

// Finalizer composes the final answer from the research summaries and
// deduplicated sources. model may carry a reasoning-model override.
type Finalizer interface {
	Finalize(ctx context.Context, topic string, summaries []string, sources []citation.Source, model, date string) (string, error)
}

// LLMQueryGenerator generates queries with an LLM, expecting a JSON object
// {"queries": [...]} in the response.
type LLMQueryGenerator struct {
	Client LLMClient
	Model  string
}

// GenerateQueries asks the model for count distinct search queries.
func (g *LLMQueryGenerator) GenerateQueries(ctx context.Context, topic string, count int, date string) ([]string, error) {
	prompt := fmt.Sprintf(`You are a research assistant generating web search queries.

Current date: %s
Research topic: %s

Generate %d distinct search queries that together cover the topic. Prefer
specific, self-contained queries over broad ones.

Respond with JSON only, in the form:
{"queries": ["query 1", "query 2"]}`, date, topic, count)

	raw, err := g.Client.Generate(ctx, g.Model, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse query generation output: %w", err)
	}

	queries := make([]string, 0, count)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == count {
			break
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("query generation produced no queries")
	}
	return queries, nil
}

// FallbackQueries derives deterministic queries from the topic when the
// query generation agent fails.
func FallbackQueries(topic string, count int) []string {
	candidates := []string{
		topic,
		topic + " overview",
		topic + " latest developments",
	}
	if count < 1 {
		count = 1
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	return candidates[:count]
}

// LLMReflector evaluates research sufficiency with an LLM, expecting a
// JSON object mirroring the Reflection shape.
type LLMReflector struct {
	Client LLMClient
	Model  string
}

// Reflect asks the model whether the summaries answer the topic.
func (r *LLMReflector) Reflect(ctx context.Context, topic string, summaries []string) (Reflection, error) {
	prompt := fmt.Sprintf(`You are a research assistant evaluating whether gathered
research answers a question.

Question: %s

Research summaries:
%s

Decide whether the summaries are sufficient to answer the question. If they
are not, identify the knowledge gap and propose up to 2 follow-up search
queries.

Respond with JSON only, in the form:
{"is_sufficient": true|false, "knowledge_gap": "...", "follow_up_queries": ["..."]}`,
		topic, numberedList(summaries))

	raw, err := r.Client.Generate(ctx, r.Model, prompt)
	if err != nil {
		return Reflection{}, err
	}

	var parsed Reflection
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &parsed); err != nil {
		return Reflection{}, fmt.Errorf("failed to parse reflection output: %w", err)
	}
	return parsed, nil
}

// FallbackReflection assumes the research is insufficient and proposes one
// deterministic follow-up. The loop bound still terminates the request.
func FallbackReflection(topic string) Reflection {
	return Reflection{
		IsSufficient:    false,
		KnowledgeGap:    "reflection agent unavailable",
		FollowUpQueries: []string{topic + " additional details"},
	}
}

// LLMFinalizer composes the final cited answer with an LLM.
type LLMFinalizer struct {
	Client  LLMClient
	Bedrock LLMClient // Optional: serves Bedrock reasoning-model overrides
	Model   string
}

// Finalize produces the final answer. Inline citation markers present in
// the summaries must be preserved verbatim, so the prompt says so.
func (f *LLMFinalizer) Finalize(ctx context.Context, topic string, summaries []string, sources []citation.Source, model, date string) (string, error) {
	if model == "" {
		model = f.Model
	}

	var sourceList strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&sourceList, "- %s (%s)\n", s.Title, s.URL)
	}

	prompt := fmt.Sprintf(`You are a research assistant writing the final answer to a question.

Current date: %s
Question: %s

Research summaries (citation markers like " [1](url)" must be kept exactly
as written):
%s

Sources:
%s
Write a well-structured answer to the question based only on the summaries
above. Keep every citation marker verbatim. Do not invent sources.`,
		date, topic, numberedList(summaries), sourceList.String())

	client := ClientForModel(model, f.Client, f.Bedrock)
	answer, err := client.Generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("finalization produced an empty answer")
	}
	return answer, nil
}

// FallbackAnswer assembles a summary-based answer when the finalization
// agent fails. Citation markers embedded in the summaries survive.
func FallbackAnswer(topic string, summaries []string, sources []citation.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research findings for: %s\n\n", topic)
	for _, s := range summaries {
		b.WriteString(strings.TrimSpace(s))
		b.WriteString("\n\n")
	}
	if len(sources) > 0 {
		b.WriteString("Sources:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Title, s.URL)
		}
	}
	return strings.TrimSpace(b.String())
}

// stripCodeFences removes a surrounding markdown code fence from a model
// response, tolerating a language tag after the opening fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	if b.Len() == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}
