// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Precedence, lowest to
// highest: built-in defaults, YAML config file, environment variables,
// Secrets Manager values.
type Config struct {
	Port string `yaml:"port"`

	// Agent LLM backend
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	// Optional Bedrock backend for reasoning-model overrides
	BedrockRegion string `yaml:"bedrock_region"`
	BedrockModel  string `yaml:"bedrock_model"`

	// Search provider keys (absence disables the provider)
	GoogleCSEKey      string `yaml:"google_cse_key"`
	GoogleCSEEngineID string `yaml:"google_cse_engine_id"`
	SerpAPIKey        string `yaml:"serpapi_key"`
	SerpAPIEngine     string `yaml:"serpapi_engine"`

	// Infrastructure
	RedisURL    string `yaml:"redis_url"`    // Optional: shared rate-limit window
	DatabaseURL string `yaml:"database_url"` // Optional: audit log sink

	// Engine tuning
	Workers          int     `yaml:"workers"`
	SearchStrategy   string  `yaml:"search_strategy"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	RateLimitRPM     int     `yaml:"rate_limit_rpm"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// SecretsARN points at a Secrets Manager JSON secret whose keys
	// override the API-key fields above.
	SecretsARN string `yaml:"secrets_arn"`
	AWSRegion  string `yaml:"aws_region"`
}

// SecretResolver fetches a JSON secret as a flat string map.
type SecretResolver interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// LoadConfig assembles the configuration. A missing config file or .env
// file is not an error; a set-but-unreadable config file is.
func LoadConfig(ctx context.Context) (*Config, error) {
	// .env is a developer convenience only.
	if err := godotenv.Load(); err == nil {
		log.Println("[Config] Loaded .env file")
	}

	cfg := &Config{
		Port:           "8081",
		GeminiModel:    geminiLLMDefaultModel,
		SearchStrategy: "sequential",
		AllowedOrigins: []string{"*"},
	}

	if path := os.Getenv("RESEARCHFLOW_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Printf("[Config] Loaded config file: %s", path)
	}

	cfg.applyEnv()

	if cfg.SecretsARN != "" {
		resolver, err := newAWSSecretResolver(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplySecrets(ctx, resolver); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.BedrockRegion = getEnv("BEDROCK_REGION", c.BedrockRegion)
	c.BedrockModel = getEnv("BEDROCK_MODEL", c.BedrockModel)
	c.GoogleCSEKey = getEnv("GOOGLE_CSE_KEY", c.GoogleCSEKey)
	c.GoogleCSEEngineID = getEnv("GOOGLE_CSE_ENGINE_ID", c.GoogleCSEEngineID)
	c.SerpAPIKey = getEnv("SERPAPI_KEY", c.SerpAPIKey)
	c.SerpAPIEngine = getEnv("SERPAPI_ENGINE", c.SerpAPIEngine)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SearchStrategy = getEnv("SEARCH_STRATEGY", c.SearchStrategy)
	c.SecretsARN = getEnv("RESEARCHFLOW_SECRETS_ARN", c.SecretsARN)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)

	if v := os.Getenv("RESEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.QualityThreshold = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitRPM = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitBurst = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
}

// ApplySecrets overlays secret values onto the API-key fields. Unknown
// secret keys are ignored.
func (c *Config) ApplySecrets(ctx context.Context, resolver SecretResolver) error {
	secrets, err := resolver.GetSecret(ctx, c.SecretsARN)
	if err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}

	overlay := func(key string, dst *string) {
		if v, ok := secrets[key]; ok && v != "" {
			*dst = v
		}
	}
	overlay("gemini_api_key", &c.GeminiAPIKey)
	overlay("google_cse_key", &c.GoogleCSEKey)
	overlay("google_cse_engine_id", &c.GoogleCSEEngineID)
	overlay("serpapi_key", &c.SerpAPIKey)
	overlay("database_url", &c.DatabaseURL)

	log.Printf("[Config] Applied %d secret values from %s", len(secrets), maskARN(c.SecretsARN))
	return nil
}

// awsSecretResolver fetches and caches one JSON secret from AWS Secrets
// Manager.
type awsSecretResolver struct {
	client *secretsmanager.Client
}

func newAWSSecretResolver(ctx context.Context, region string) (*awsSecretResolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &awsSecretResolver{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// GetSecret fetches the secret and parses it as a flat JSON object. A
// non-JSON secret is treated as a single value keyed "value".
func (r *awsSecretResolver) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	result, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}
	return values, nil
}

// maskARN masks a secret ARN for logging (last 8 characters only).
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
