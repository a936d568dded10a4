// Package config loads the process-wide environment once at startup:
// database location, LLM transport target, generation parameters, search
// provider, and the HTTP surface's listen address. Spec §6 "Environment"
// lists exactly this set; there is no hot-reload or file-watch path,
// unlike the teacher's config/zero_config machinery, since the spec
// describes a single-binary service with no agent-definition DSL to
// reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kadirpekel/deepresearch/internal/graph"
	"github.com/kadirpekel/deepresearch/internal/store"
)

// Config is the fully resolved, read-once process configuration.
type Config struct {
	// Persistence Store.
	DBDialect store.Dialect
	DBDSN     string

	// LLM Transport.
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
	Temperature float64
	MaxTokens   int

	// Research runtime.
	MaxResearchTime time.Duration

	// Web search / fetch collaborators.
	SearxURL       string
	AllowedDomains []string
	DeniedDomains  []string

	// HTTP surface.
	HTTPAddr string

	LogLevel  string
	LogFormat string
}

// envDefaults documents every recognized environment variable and its
// fallback, mirroring pkg/config/env.go's LoadEnvFiles + os.Getenv pattern
// but flattened to plain key/value lookups since this spec has no nested
// YAML config tree to expand.
const (
	envDBDialect       = "DEEPRESEARCH_DB_DIALECT"
	envDBDSN           = "DEEPRESEARCH_DB_DSN"
	envLLMEndpoint     = "DEEPRESEARCH_LLM_ENDPOINT"
	envLLMAPIKey       = "DEEPRESEARCH_LLM_API_KEY"
	envLLMModel        = "DEEPRESEARCH_LLM_MODEL"
	envTemperature     = "DEEPRESEARCH_LLM_TEMPERATURE"
	envMaxTokens       = "DEEPRESEARCH_LLM_MAX_TOKENS"
	envMaxResearchTime = "DEEPRESEARCH_MAX_RESEARCH_TIME_SECONDS"
	envSearxURL        = "DEEPRESEARCH_SEARX_URL"
	envAllowedDomains  = "DEEPRESEARCH_ALLOWED_DOMAINS"
	envDeniedDomains   = "DEEPRESEARCH_DENIED_DOMAINS"
	envHTTPAddr        = "DEEPRESEARCH_HTTP_ADDR"
	envLogLevel        = "DEEPRESEARCH_LOG_LEVEL"
	envLogFormat       = "DEEPRESEARCH_LOG_FORMAT"
)

// Load reads .env/.env.local (if present, exactly like LoadEnvFiles) then
// resolves every setting from the process environment, applying the
// defaults a self-hosted single-node deployment needs to just start.
func Load() (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBDialect:       store.Dialect(getEnv(envDBDialect, string(store.DialectSQLite))),
		DBDSN:           getEnv(envDBDSN, "deepresearch.db"),
		LLMEndpoint:     getEnv(envLLMEndpoint, "http://localhost:11434/v1/chat/completions"),
		LLMAPIKey:       os.Getenv(envLLMAPIKey),
		LLMModel:        getEnv(envLLMModel, "llama3.1"),
		SearxURL:        getEnv(envSearxURL, "http://localhost:8888"),
		HTTPAddr:        getEnv(envHTTPAddr, ":8099"),
		LogLevel:        getEnv(envLogLevel, "info"),
		LogFormat:       getEnv(envLogFormat, "simple"),
		AllowedDomains:  splitCSV(os.Getenv(envAllowedDomains)),
		DeniedDomains:   splitCSV(os.Getenv(envDeniedDomains)),
	}

	temp, err := getFloat(envTemperature, 0.4)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature = temp

	tokens, err := getInt(envMaxTokens, 2048)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens = tokens

	researchSeconds, err := getInt(envMaxResearchTime, 600)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxResearchTime = time.Duration(researchSeconds) * time.Second
	if cfg.MaxResearchTime < graph.MinTimeout {
		cfg.MaxResearchTime = graph.MinTimeout
	}

	switch cfg.DBDialect {
	case store.DialectSQLite, store.DialectPostgres, store.DialectMySQL:
	default:
		return Config{}, fmt.Errorf("config: unknown %s %q", envDBDialect, cfg.DBDialect)
	}

	return cfg, nil
}

func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: loading %s: %w", file, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return f, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
