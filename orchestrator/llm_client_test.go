// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiTextResponse(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": text},
					},
				},
			},
		},
	})
	return string(body)
}

func TestGeminiLLMClientGenerate(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, geminiTextResponse("generated text"))
	}))
	defer server.Close()

	client := NewGeminiLLMClient(GeminiLLMConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	text, err := client.Generate(context.Background(), "", "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "generated text", text)

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	contents := gotBody["contents"].([]any)
	require.Len(t, contents, 1)
}

func TestGeminiLLMClientModelOverride(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, geminiTextResponse("ok"))
	}))
	defer server.Close()

	client := NewGeminiLLMClient(GeminiLLMConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Generate(context.Background(), "gemini-2.5-pro", "p")
	require.NoError(t, err)
	assert.Equal(t, "/v1beta/models/gemini-2.5-pro:generateContent", gotPath)
}

func TestGeminiLLMClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exhausted"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewGeminiLLMClient(GeminiLLMConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Generate(context.Background(), "", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestGeminiLLMClientNoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	client := NewGeminiLLMClient(GeminiLLMConfig{APIKey: "k", BaseURL: server.URL})

	_, err := client.Generate(context.Background(), "", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

// fakeInvoker scripts Bedrock InvokeModel responses.
type fakeInvoker struct {
	body     []byte
	err      error
	gotInput *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, input *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.gotInput = input
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockLLMClientGenerate(t *testing.T) {
	invoker := &fakeInvoker{
		body: []byte(`{"content":[{"text":"bedrock "},{"text":"answer"}]}`),
	}
	client := NewBedrockLLMClientWithInvoker(invoker, "us-east-1", "anthropic.claude-3-5-sonnet-20241022-v2:0")

	text, err := client.Generate(context.Background(), "", "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "bedrock answer", text)

	require.NotNil(t, invoker.gotInput)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", *invoker.gotInput.ModelId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(invoker.gotInput.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
}

func TestBedrockLLMClientEmptyContent(t *testing.T) {
	invoker := &fakeInvoker{body: []byte(`{"content":[]}`)}
	client := NewBedrockLLMClientWithInvoker(invoker, "us-east-1", "m")

	_, err := client.Generate(context.Background(), "", "p")
	require.Error(t, err)
}

func TestClientForModelRouting(t *testing.T) {
	gemini := NewGeminiLLMClient(GeminiLLMConfig{APIKey: "k"})
	bedrock := NewBedrockLLMClientWithInvoker(&fakeInvoker{}, "us-east-1", "m")

	tests := []struct {
		name    string
		model   string
		bedrock LLMClient
		want    string
	}{
		{name: "empty model goes to gemini", model: "", bedrock: bedrock, want: "gemini"},
		{name: "gemini model goes to gemini", model: "gemini-2.5-pro", bedrock: bedrock, want: "gemini"},
		{name: "anthropic prefix goes to bedrock", model: "anthropic.claude-3-5-sonnet-20241022-v2:0", bedrock: bedrock, want: "bedrock"},
		{name: "regional prefix goes to bedrock", model: "us.anthropic.claude-3-7-sonnet-20250219-v1:0", bedrock: bedrock, want: "bedrock"},
		{name: "bedrock unconfigured falls back to gemini", model: "anthropic.claude-3-5-sonnet-20241022-v2:0", bedrock: nil, want: "gemini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClientForModel(tt.model, gemini, tt.bedrock)
			assert.Equal(t, tt.want, got.Name())
		})
	}
}

func TestTruncateForLog(t *testing.T) {
	short := "short string"
	assert.Equal(t, short, truncateForLog(short))

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateForLog(string(long))
	assert.Len(t, got, 303)
	assert.True(t, got[300] == '.')
}
