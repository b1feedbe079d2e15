package pipeline

import "time"

// Config is the per-invocation configuration surface of a document run.
type Config struct {
	PagesPerBatch int
	OverlapPages  int
	// MaxBatches truncates the plan when > 0. Zero plans the whole document.
	MaxBatches int
	// AutoBatchSize replaces PagesPerBatch with RecommendBatchSize for the document.
	AutoBatchSize bool

	MaxConcurrent      int
	RetryAttempts      int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	RateLimitFloor     time.Duration
	MaxRetryDelay      time.Duration
	Jitter             bool
	CallTimeout        time.Duration

	// RateLimit is applied when the pipeline builds its own limiter. A limiter passed to
	// New takes precedence.
	RateLimit RateLimit

	Quality QualityThresholds
	// MarkerLanguage selects merge markers: "ar" for Arabic, anything else for English.
	MarkerLanguage string
	// Normalize cleans every extracted batch before merging.
	Normalize bool
	// MaxChunkTokens is the token budget per batch for plain-text documents.
	MaxChunkTokens int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PagesPerBatch:      20,
		OverlapPages:       0,
		MaxBatches:         0,
		MaxConcurrent:      3,
		RetryAttempts:      3,
		RetryDelay:         2 * time.Second,
		ExponentialBackoff: true,
		RateLimitFloor:     10 * time.Second,
		MaxRetryDelay:      2 * time.Minute,
		CallTimeout:        5 * time.Minute,
		RateLimit:          NoRateLimit(),
		Quality:            DefaultQualityThresholds(),
		MarkerLanguage:     "en",
		Normalize:          true,
		MaxChunkTokens:     DefaultMaxChunkTokens,
	}
}

// Validate fails fast on any configuration error. All returned errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.planConfig(c.PagesPerBatch).validate(); err != nil {
		return err
	}
	if err := c.executorConfig().validate(); err != nil {
		return err
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if c.MaxChunkTokens <= 0 {
		return configError("maxChunkTokens must be > 0, got %d", c.MaxChunkTokens)
	}
	if _, err := NewQualityEvaluator(c.Quality); err != nil {
		return err
	}
	return nil
}

func (c Config) planConfig(pagesPerBatch int) PlanConfig {
	return PlanConfig{
		PagesPerBatch: pagesPerBatch,
		OverlapPages:  c.OverlapPages,
		MaxBatches:    c.MaxBatches,
	}
}

func (c Config) executorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:      c.MaxConcurrent,
		RetryAttempts:      c.RetryAttempts,
		RetryDelay:         c.RetryDelay,
		ExponentialBackoff: c.ExponentialBackoff,
		RateLimitFloor:     c.RateLimitFloor,
		MaxRetryDelay:      c.MaxRetryDelay,
		Jitter:             c.Jitter,
		CallTimeout:        c.CallTimeout,
	}
}
