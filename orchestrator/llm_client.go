// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// LLMClient is the text-generation interface used by the research agents.
// The model parameter may be empty, selecting the client's default.
type LLMClient interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	Name() string
}

// HTTPDoer is the minimal HTTP client interface (enables testing).
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	geminiLLMBaseURL      = "https://generativelanguage.googleapis.com"
	geminiLLMAPIVersion   = "v1beta"
	geminiLLMDefaultModel = "gemini-2.0-flash"
	llmDefaultTimeout     = 60 * time.Second
)

// GeminiLLMClient calls the Gemini generateContent API without tools. This
// is the default backend for query generation, reflection, and
// finalization.
type GeminiLLMClient struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	defaultModel string
	timeout      time.Duration
	client       HTTPDoer
}

// GeminiLLMConfig configures the Gemini agent backend.
type GeminiLLMConfig struct {
	APIKey       string
	BaseURL      string        // Optional: API base URL
	DefaultModel string        // Optional: default model
	Timeout      time.Duration // Optional: call timeout (default: 60s)
}

// NewGeminiLLMClient creates the Gemini agent backend.
func NewGeminiLLMClient(cfg GeminiLLMConfig) *GeminiLLMClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiLLMBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = geminiLLMDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = llmDefaultTimeout
	}

	return &GeminiLLMClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		apiVersion:   geminiLLMAPIVersion,
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient replaces the HTTP client (tests).
func (c *GeminiLLMClient) SetHTTPClient(doer HTTPDoer) {
	c.client = doer
}

// Name returns the backend name.
func (c *GeminiLLMClient) Name() string {
	return "gemini"
}

// Generate sends one prompt and returns the model's text.
func (c *GeminiLLMClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]any{
					{"text": prompt},
				},
			},
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		c.baseURL, c.apiVersion, model, c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, truncateForLog(string(body)))
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

// BedrockLLMClient serves reasoning-model overrides through AWS Bedrock
// with Signature V4 authentication via IAM roles. Only the Anthropic model
// family is wired; that is what the reasoning override is used for.
type BedrockLLMClient struct {
	client bedrockInvoker
	region string
	model  string
}

// bedrockInvoker is the Bedrock API surface we use (enables testing).
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, input *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// NewBedrockLLMClient creates the Bedrock agent backend for the given
// region and default model.
func NewBedrockLLMClient(ctx context.Context, region, model string) (*BedrockLLMClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockLLMClient{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
		model:  model,
	}, nil
}

// NewBedrockLLMClientWithInvoker wires a custom invoker (tests).
func NewBedrockLLMClientWithInvoker(invoker bedrockInvoker, region, model string) *BedrockLLMClient {
	return &BedrockLLMClient{client: invoker, region: region, model: model}
}

// Name returns the backend name.
func (c *BedrockLLMClient) Name() string {
	return "bedrock"
}

// Generate invokes the model with an Anthropic-style message body.
func (c *BedrockLLMClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = c.model
	}

	requestBody := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		log.Printf("[Bedrock] API call failed: %v", err)
		return "", fmt.Errorf("bedrock API error: %w", err)
	}

	var apiResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		text.WriteString(block.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("bedrock returned empty content")
	}
	return text.String(), nil
}

// ClientForModel routes a model name to the matching backend: Bedrock model
// IDs (anthropic./us.anthropic. prefixes) go to Bedrock when it is
// configured, everything else to the default Gemini client.
func ClientForModel(model string, gemini LLMClient, bedrock LLMClient) LLMClient {
	if bedrock != nil && isBedrockModelID(model) {
		return bedrock
	}
	return gemini
}

func isBedrockModelID(model string) bool {
	return strings.HasPrefix(model, "anthropic.") ||
		strings.HasPrefix(model, "us.anthropic.") ||
		strings.HasPrefix(model, "eu.anthropic.")
}

func truncateForLog(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
