// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	assert.Equal(t, "sequential", cfg.SearchStrategy)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("SEARCH_STRATEGY", "best_effort")
	t.Setenv("RESEARCH_WORKERS", "8")
	t.Setenv("QUALITY_THRESHOLD", "0.5")
	t.Setenv("RATE_LIMIT_RPM", "120")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test,https://b.test")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "env-key", cfg.GeminiAPIKey)
	assert.Equal(t, "best_effort", cfg.SearchStrategy)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 0.5, cfg.QualityThreshold)
	assert.Equal(t, 120, cfg.RateLimitRPM)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfigYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
gemini_api_key: yaml-key
search_strategy: parallel_first_wins
serpapi_engine: bing
`), 0o600))
	t.Setenv("RESEARCHFLOW_CONFIG_FILE", path)

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "yaml-key", cfg.GeminiAPIKey)
	assert.Equal(t, "parallel_first_wins", cfg.SearchStrategy)
	assert.Equal(t, "bing", cfg.SerpAPIEngine)
}

func TestLoadConfigEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini_api_key: yaml-key\n"), 0o600))
	t.Setenv("RESEARCHFLOW_CONFIG_FILE", path)
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.GeminiAPIKey)
}

func TestLoadConfigMissingFileIsError(t *testing.T) {
	t.Setenv("RESEARCHFLOW_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig(context.Background())
	require.Error(t, err)
}

// fakeSecretResolver serves a fixed secret map.
type fakeSecretResolver struct {
	secrets map[string]string
	err     error
	gotARN  string
}

func (f *fakeSecretResolver) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	f.gotARN = secretARN
	if f.err != nil {
		return nil, f.err
	}
	return f.secrets, nil
}

func TestApplySecretsOverlaysKeys(t *testing.T) {
	cfg := &Config{
		GeminiAPIKey: "env-key",
		SecretsARN:   "arn:aws:secretsmanager:us-east-1:123456789012:secret:researchflow-abc123",
	}
	resolver := &fakeSecretResolver{secrets: map[string]string{
		"gemini_api_key": "secret-key",
		"serpapi_key":    "secret-serp",
		"unknown_key":    "ignored",
	}}

	require.NoError(t, cfg.ApplySecrets(context.Background(), resolver))

	assert.Equal(t, "secret-key", cfg.GeminiAPIKey)
	assert.Equal(t, "secret-serp", cfg.SerpAPIKey)
	assert.Equal(t, cfg.SecretsARN, resolver.gotARN)
}

func TestApplySecretsEmptyValuesDoNotOverwrite(t *testing.T) {
	cfg := &Config{GeminiAPIKey: "env-key", SecretsARN: "arn:test"}
	resolver := &fakeSecretResolver{secrets: map[string]string{"gemini_api_key": ""}}

	require.NoError(t, cfg.ApplySecrets(context.Background(), resolver))
	assert.Equal(t, "env-key", cfg.GeminiAPIKey)
}

func TestApplySecretsResolverFailure(t *testing.T) {
	cfg := &Config{SecretsARN: "arn:test"}
	resolver := &fakeSecretResolver{err: fmt.Errorf("access denied")}

	require.Error(t, cfg.ApplySecrets(context.Background(), resolver))
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "***", maskARN("short"))
	assert.Equal(t, "...f-abc123",
		maskARN("arn:aws:secretsmanager:us-east-1:123456789012:secret:rf-abc123"))
}
