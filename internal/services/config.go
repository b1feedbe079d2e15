package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/documentingestion/internal/gcp"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// ServiceConfig holds the GCP settings shared by the ingestion functions.
type ServiceConfig struct {
	ProjectID        string
	VertexAIRegion   string
	VertexModel      string
	TextBucket       string
	CollectionName   string
	WorkflowID       string
	WorkflowLocation string
}

func loadServiceConfig() (*ServiceConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := &ServiceConfig{
		ProjectID:        projectID,
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:      gcp.GetEnv("VERTEX_MODEL", gcp.DefaultOCRModel),
		TextBucket:       gcp.GetEnv("EXTRACTED_TEXT_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
	}
	if config.TextBucket == "" {
		return nil, fmt.Errorf("EXTRACTED_TEXT_BUCKET environment variable must be set")
	}
	return config, nil
}

// LoadPipelineConfig reads pipeline settings from the environment on top of
// pipeline.DefaultConfig. Malformed values and invalid combinations are configuration
// errors wrapping pipeline.ErrInvalidConfig.
func LoadPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	l := envLoader{}

	cfg.PagesPerBatch = l.int("PAGES_PER_BATCH", cfg.PagesPerBatch)
	cfg.OverlapPages = l.int("OVERLAP_PAGES", cfg.OverlapPages)
	cfg.MaxBatches = l.int("MAX_BATCHES", cfg.MaxBatches)
	cfg.AutoBatchSize = l.bool("AUTO_BATCH_SIZE", cfg.AutoBatchSize)
	cfg.MaxConcurrent = l.int("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.RetryAttempts = l.int("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = l.millis("RETRY_DELAY_MS", cfg.RetryDelay.Milliseconds())
	cfg.ExponentialBackoff = l.bool("EXPONENTIAL_BACKOFF", cfg.ExponentialBackoff)
	cfg.Jitter = l.bool("RETRY_JITTER", cfg.Jitter)
	cfg.CallTimeout = l.duration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.MaxChunkTokens = l.int("MAX_CHUNK_TOKENS", cfg.MaxChunkTokens)
	cfg.Quality.MinTextDensity = l.float("MIN_TEXT_DENSITY", cfg.Quality.MinTextDensity)
	cfg.Quality.MaxGarbageRatio = l.float("MAX_GARBAGE_RATIO", cfg.Quality.MaxGarbageRatio)
	cfg.Quality.MinScriptRatio = l.float("MIN_SCRIPT_RATIO", cfg.Quality.MinScriptRatio)
	cfg.MarkerLanguage = gcp.GetEnv("MARKER_LANGUAGE", cfg.MarkerLanguage)
	cfg.Normalize = l.bool("NORMALIZE_TEXT", cfg.Normalize)
	cfg.RateLimit = l.rateLimit("RATE_LIMIT_PER_MINUTE")

	if l.err != nil {
		return pipeline.Config{}, fmt.Errorf("%w: %w", pipeline.ErrInvalidConfig, l.err)
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// ParseRateLimit interprets a rate limit setting. Blank and "none" mean unlimited; any
// other value must be an integer number of calls per minute.
func ParseRateLimit(raw string) (pipeline.RateLimit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return pipeline.NoRateLimit(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return pipeline.RateLimit{}, fmt.Errorf("invalid rate limit %q: %w", raw, err)
	}
	return pipeline.PerMinute(n), nil
}

// envLoader keeps the first parse error so settings can be read in one pass.
type envLoader struct {
	err error
}

func (l *envLoader) keep(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *envLoader) int(key string, fallback int) int {
	v, err := gcp.GetEnvInt(key, fallback)
	l.keep(err)
	return v
}

func (l *envLoader) float(key string, fallback float64) float64 {
	v, err := gcp.GetEnvFloat(key, fallback)
	l.keep(err)
	return v
}

func (l *envLoader) bool(key string, fallback bool) bool {
	v, err := gcp.GetEnvBool(key, fallback)
	l.keep(err)
	return v
}

func (l *envLoader) millis(key string, fallbackMs int64) time.Duration {
	v, err := gcp.GetEnvInt(key, int(fallbackMs))
	l.keep(err)
	return time.Duration(v) * time.Millisecond
}

func (l *envLoader) duration(key string, fallback time.Duration) time.Duration {
	v, err := gcp.GetEnvDuration(key, fallback)
	l.keep(err)
	return v
}

func (l *envLoader) rateLimit(key string) pipeline.RateLimit {
	r, err := ParseRateLimit(gcp.GetEnv(key, ""))
	if err != nil {
		l.keep(fmt.Errorf("%s: %w", key, err))
		return pipeline.NoRateLimit()
	}
	return r
}
