package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchExtractor turns one batch into text. Implementations report failures that Classify
// can inspect, preferably as *StatusError.
type BatchExtractor interface {
	Extract(ctx context.Context, batch Batch) (string, error)
}

// ExtractorFunc adapts a function to BatchExtractor.
type ExtractorFunc func(ctx context.Context, batch Batch) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, batch Batch) (string, error) {
	return f(ctx, batch)
}

// ExecutorConfig bounds concurrency and defines the retry schedule.
type ExecutorConfig struct {
	MaxConcurrent int
	// RetryAttempts is the number of retries after the first call.
	RetryAttempts      int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	// RateLimitFloor is the minimum delay before retrying a rate-limited call.
	RateLimitFloor time.Duration
	// MaxRetryDelay caps exponential growth when > 0. It does not lower RateLimitFloor.
	MaxRetryDelay time.Duration
	Jitter        bool
	// CallTimeout bounds a single extractor call when > 0.
	CallTimeout time.Duration
}

func (c ExecutorConfig) validate() error {
	switch {
	case c.MaxConcurrent <= 0:
		return configError("maxConcurrent must be > 0, got %d", c.MaxConcurrent)
	case c.RetryAttempts < 0:
		return configError("retryAttempts must be >= 0, got %d", c.RetryAttempts)
	case c.RetryDelay < 0:
		return configError("retryDelay must be >= 0, got %s", c.RetryDelay)
	case c.RateLimitFloor < 0, c.MaxRetryDelay < 0:
		return configError("retry delay bounds must be >= 0")
	case c.CallTimeout < 0:
		return configError("callTimeout must be >= 0, got %s", c.CallTimeout)
	}
	return nil
}

// Executor drives batches through a BatchExtractor with bounded concurrency, shared rate
// limiting and per-batch retries.
type Executor struct {
	extractor BatchExtractor
	limiter   *RateLimiter
	cfg       ExecutorConfig
	progress  ProgressFunc
	logger    *slog.Logger
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) ExecutorOption {
	return func(e *Executor) { e.progress = fn }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor validates cfg. A nil limiter disables rate limiting.
func NewExecutor(extractor BatchExtractor, limiter *RateLimiter, cfg ExecutorConfig, opts ...ExecutorOption) (*Executor, error) {
	if extractor == nil {
		return nil, configError("extractor must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter, _ = NewRateLimiter(NoRateLimit())
	}
	e := &Executor{
		extractor: extractor,
		limiter:   limiter,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Execute runs every batch and returns one outcome per batch, in plan order.
//
// Batch failures are reported in the outcomes, never as an error. The returned error is
// non-nil only when the run was aborted: a *FatalError after an authorization failure, or
// ErrRunCanceled when ctx was canceled. Outcomes are returned in both cases; batches that
// never ran carry ErrRunCanceled.
func (e *Executor) Execute(ctx context.Context, batches []Batch) ([]BatchOutcome, error) {
	outcomes := make([]BatchOutcome, len(batches))
	settled := make([]bool, len(batches))
	total := len(batches)
	var done atomic.Int64

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.MaxConcurrent)

	for i, b := range batches {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := e.runBatch(gctx, b, total, &done)
			outcomes[i] = out
			settled[i] = true
			return err
		})
	}
	runErr := eg.Wait()

	cause := context.Cause(gctx)
	for i, b := range batches {
		if !settled[i] {
			outcomes[i] = BatchOutcome{
				BatchNumber: b.Number,
				StartPage:   b.StartPage,
				EndPage:     b.EndPage,
				Err:         fmt.Errorf("%w: %w", ErrRunCanceled, cause),
			}
		}
	}

	if runErr != nil {
		return outcomes, runErr
	}
	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("%w: %w", ErrRunCanceled, err)
	}
	return outcomes, nil
}

func (e *Executor) runBatch(ctx context.Context, b Batch, total int, done *atomic.Int64) (BatchOutcome, error) {
	logCtx := e.logger.With("batch", b.Number, "pages", b.PageRange())
	out := BatchOutcome{BatchNumber: b.Number, StartPage: b.StartPage, EndPage: b.EndPage}
	start := time.Now()

	e.emit(ProgressEvent{
		BatchNumber: b.Number, TotalBatches: total, StartPage: b.StartPage, EndPage: b.EndPage,
		Percentage: percentOf(int(done.Load()), total), Status: ProgressProcessing, Attempt: 1,
	})

	var lastErr error
	maxCalls := e.cfg.RetryAttempts + 1
retry:
	for attempt := 1; attempt <= maxCalls; attempt++ {
		if err := e.limiter.Admit(ctx); err != nil {
			lastErr = err
			break
		}
		out.Attempts = attempt

		text, err := e.call(ctx, b)
		if err == nil {
			out.Text = text
			out.Success = true
			out.Elapsed = time.Since(start)
			n := done.Add(1)
			logCtx.Info("Batch extracted.", "attempts", attempt, "elapsed", out.Elapsed.String())
			e.emit(ProgressEvent{
				BatchNumber: b.Number, TotalBatches: total, StartPage: b.StartPage, EndPage: b.EndPage,
				Percentage: percentOf(int(n), total), Status: ProgressCompleted, Attempt: attempt,
			})
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		class := Classify(err)
		if class == Fatal {
			out.Err = err
			out.Elapsed = time.Since(start)
			n := done.Add(1)
			logCtx.Error("Fatal extractor error, aborting document run.", "error", err)
			e.emit(ProgressEvent{
				BatchNumber: b.Number, TotalBatches: total, StartPage: b.StartPage, EndPage: b.EndPage,
				Percentage: percentOf(int(n), total), Status: ProgressFailed, Attempt: attempt, Err: err,
			})
			return out, &FatalError{BatchNumber: b.Number, Err: err}
		}
		if attempt == maxCalls {
			break
		}

		delay := e.backoff(attempt, class)
		logCtx.Warn("Batch extraction failed, will retry.",
			"attempt", attempt,
			"maxAttempts", maxCalls,
			"class", class.String(),
			"backoff", delay.String(),
			"error", err,
		)
		e.emit(ProgressEvent{
			BatchNumber: b.Number, TotalBatches: total, StartPage: b.StartPage, EndPage: b.EndPage,
			Percentage: percentOf(int(done.Load()), total), Status: ProgressRetrying, Attempt: attempt + 1, Err: err,
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			break retry
		}
	}

	if ctx.Err() != nil {
		lastErr = fmt.Errorf("%w: %w", ErrRunCanceled, lastErr)
	}
	out.Err = lastErr
	out.Elapsed = time.Since(start)
	n := done.Add(1)
	logCtx.Error("Batch failed after all retries.", "attempts", out.Attempts, "error", lastErr)
	e.emit(ProgressEvent{
		BatchNumber: b.Number, TotalBatches: total, StartPage: b.StartPage, EndPage: b.EndPage,
		Percentage: percentOf(int(n), total), Status: ProgressFailed, Attempt: out.Attempts, Err: lastErr,
	})
	return out, nil
}

type callResult struct {
	text string
	err  error
}

// call runs one extractor call under CallTimeout. An extractor that ignores its context is
// abandoned once the deadline passes so the concurrency slot is released.
func (e *Executor) call(ctx context.Context, b Batch) (string, error) {
	if e.cfg.CallTimeout <= 0 {
		return e.extractor.Extract(ctx, b)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	ch := make(chan callResult, 1)
	go func() {
		text, err := e.extractor.Extract(callCtx, b)
		ch <- callResult{text: text, err: err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("batch %d: extractor call exceeded %s: %w", b.Number, e.cfg.CallTimeout, context.DeadlineExceeded)
		}
		return "", callCtx.Err()
	}
}

// backoff returns the delay before retry number attempt (1-based).
func (e *Executor) backoff(attempt int, class ErrorClass) time.Duration {
	d := e.cfg.RetryDelay
	if e.cfg.ExponentialBackoff && attempt > 1 {
		d = doubled(d, attempt-1)
	}
	if e.cfg.Jitter && d > 0 {
		d = saturatingAdd(d, time.Duration(rand.Int64N(int64(d)/5+1)))
	}
	if e.cfg.MaxRetryDelay > 0 && d > e.cfg.MaxRetryDelay {
		d = e.cfg.MaxRetryDelay
	}
	if class == RateLimited && d < e.cfg.RateLimitFloor {
		d = e.cfg.RateLimitFloor
	}
	return d
}

// doubled returns d doubled n times, saturating at the largest Duration.
func doubled(d time.Duration, n int) time.Duration {
	if d <= 0 {
		return d
	}
	if n >= 63 || d > math.MaxInt64>>n {
		return math.MaxInt64
	}
	return d << n
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func (e *Executor) emit(ev ProgressEvent) {
	if e.progress != nil {
		e.progress(ev)
	}
}
