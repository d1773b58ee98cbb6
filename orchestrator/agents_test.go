// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchflow/platform/orchestrator/citation"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Generate(ctx context.Context, model, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	idx := len(s.prompts) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func TestLLMQueryGeneratorParsesJSON(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"queries": ["quantum computing hardware 2026", "quantum error rates", "quantum supremacy milestones"]}`,
	}}
	gen := &LLMQueryGenerator{Client: llm}

	queries, err := gen.GenerateQueries(context.Background(), "quantum computing", 3, "August 24, 2026")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"quantum computing hardware 2026",
		"quantum error rates",
		"quantum supremacy milestones",
	}, queries)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "quantum computing")
	assert.Contains(t, llm.prompts[0], "August 24, 2026")
}

func TestLLMQueryGeneratorStripsCodeFence(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```json\n{\"queries\": [\"q1\", \"q2\"]}\n```",
	}}
	gen := &LLMQueryGenerator{Client: llm}

	queries, err := gen.GenerateQueries(context.Background(), "topic", 2, "date")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, queries)
}

func TestLLMQueryGeneratorTruncatesToCount(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"queries": ["q1", "", "q2", "q3", "q4"]}`,
	}}
	gen := &LLMQueryGenerator{Client: llm}

	queries, err := gen.GenerateQueries(context.Background(), "topic", 2, "date")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, queries)
}

func TestLLMQueryGeneratorRejectsGarbage(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"I cannot do that."}}
	gen := &LLMQueryGenerator{Client: llm}

	_, err := gen.GenerateQueries(context.Background(), "topic", 3, "date")
	require.Error(t, err)
}

func TestLLMQueryGeneratorRejectsEmptyList(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"queries": ["", "  "]}`}}
	gen := &LLMQueryGenerator{Client: llm}

	_, err := gen.GenerateQueries(context.Background(), "topic", 3, "date")
	require.Error(t, err)
}

func TestFallbackQueries(t *testing.T) {
	assert.Equal(t, []string{"solar"}, FallbackQueries("solar", 1))
	assert.Equal(t, []string{"solar", "solar overview"}, FallbackQueries("solar", 2))
	assert.Equal(t,
		[]string{"solar", "solar overview", "solar latest developments"},
		FallbackQueries("solar", 3))
	// Requests beyond the candidate list are capped.
	assert.Len(t, FallbackQueries("solar", 10), 3)
	assert.Len(t, FallbackQueries("solar", 0), 1)
}

func TestLLMReflectorParsesDecision(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"is_sufficient": false, "knowledge_gap": "missing recent data", "follow_up_queries": ["topic 2026 results"]}`,
	}}
	refl := &LLMReflector{Client: llm}

	reflection, err := refl.Reflect(context.Background(), "topic", []string{"summary one"})
	require.NoError(t, err)
	assert.False(t, reflection.IsSufficient)
	assert.Equal(t, "missing recent data", reflection.KnowledgeGap)
	assert.Equal(t, []string{"topic 2026 results"}, reflection.FollowUpQueries)

	assert.Contains(t, llm.prompts[0], "summary one")
}

func TestLLMReflectorSufficient(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"is_sufficient": true}`}}
	refl := &LLMReflector{Client: llm}

	reflection, err := refl.Reflect(context.Background(), "topic", nil)
	require.NoError(t, err)
	assert.True(t, reflection.IsSufficient)
	assert.Empty(t, reflection.FollowUpQueries)
}

func TestLLMReflectorRejectsGarbage(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"definitely not json"}}
	refl := &LLMReflector{Client: llm}

	_, err := refl.Reflect(context.Background(), "topic", nil)
	require.Error(t, err)
}

func TestFallbackReflectionTerminatesViaLoopBound(t *testing.T) {
	reflection := FallbackReflection("topic")
	assert.False(t, reflection.IsSufficient)
	require.Len(t, reflection.FollowUpQueries, 1)
	assert.Contains(t, reflection.FollowUpQueries[0], "topic")
}

func TestLLMFinalizerComposesPromptAndAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"The final answer [1](https://a.test/doc)."}}
	fin := &LLMFinalizer{Client: llm}

	summaries := []string{"Summary with marker [1](https://a.test/doc)."}
	sources := []citation.Source{{Title: "Doc", URL: "https://a.test/doc"}}

	answer, err := fin.Finalize(context.Background(), "topic", summaries, sources, "", "August 24, 2026")
	require.NoError(t, err)
	assert.Equal(t, "The final answer [1](https://a.test/doc).", answer)

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "Summary with marker")
	assert.Contains(t, prompt, "https://a.test/doc")
	assert.Contains(t, prompt, "August 24, 2026")
}

func TestLLMFinalizerRoutesReasoningModelToBedrock(t *testing.T) {
	gemini := &scriptedLLM{responses: []string{"gemini answer"}}
	invoker := &fakeInvoker{body: []byte(`{"content":[{"text":"bedrock answer"}]}`)}
	fin := &LLMFinalizer{
		Client:  gemini,
		Bedrock: NewBedrockLLMClientWithInvoker(invoker, "us-east-1", ""),
	}

	answer, err := fin.Finalize(context.Background(), "topic", nil, nil,
		"anthropic.claude-3-5-sonnet-20241022-v2:0", "date")
	require.NoError(t, err)
	assert.Equal(t, "bedrock answer", answer)
	assert.Empty(t, gemini.prompts, "gemini must not be called for a Bedrock model ID")
}

func TestLLMFinalizerRejectsEmptyAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"   "}}
	fin := &LLMFinalizer{Client: llm}

	_, err := fin.Finalize(context.Background(), "topic", nil, nil, "", "date")
	require.Error(t, err)
}

func TestLLMFinalizerPropagatesClientError(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("backend down")}
	fin := &LLMFinalizer{Client: llm}

	_, err := fin.Finalize(context.Background(), "topic", nil, nil, "", "date")
	require.Error(t, err)
}

func TestFallbackAnswerKeepsMarkersAndSources(t *testing.T) {
	answer := FallbackAnswer("topic",
		[]string{"First summary [1](https://a.test/doc)."},
		[]citation.Source{{Title: "Doc", URL: "https://a.test/doc"}})

	assert.True(t, strings.HasPrefix(answer, "Research findings for: topic"))
	assert.Contains(t, answer, "[1](https://a.test/doc)")
	assert.Contains(t, answer, "- Doc (https://a.test/doc)")
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: `{"a":1}`, want: `{"a":1}`},
		{name: "plain fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding whitespace", in: "  ```json\n{\"a\":1}\n```  ", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.in))
		})
	}
}
