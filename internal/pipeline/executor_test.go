package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:  3,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
		RateLimitFloor: time.Millisecond,
	}
}

func planPages(t *testing.T, pages, size int) []Batch {
	t.Helper()
	batches, err := Plan(Document{PageCount: pages}, PlanConfig{PagesPerBatch: size})
	require.NoError(t, err)
	return batches
}

func TestExecutor_NeverExceedsMaxConcurrent(t *testing.T) {
	for _, c := range []int{1, 2, 3, 7} {
		var active, peak atomic.Int64
		extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Duration(b.Number%4+1) * time.Millisecond)
			return b.PageRange(), nil
		})

		cfg := fastExecutorConfig()
		cfg.MaxConcurrent = c
		exec, err := NewExecutor(extractor, nil, cfg)
		require.NoError(t, err)

		outcomes, err := exec.Execute(context.Background(), planPages(t, 40, 1))
		require.NoError(t, err)
		assert.Len(t, outcomes, 40)
		assert.LessOrEqual(t, peak.Load(), int64(c), "maxConcurrent=%d", c)
	}
}

func TestExecutor_OutcomesInPlanOrder(t *testing.T) {
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		time.Sleep(time.Duration(10-b.Number) * time.Millisecond)
		return fmt.Sprintf("batch %d", b.Number), nil
	})
	exec, err := NewExecutor(extractor, nil, fastExecutorConfig())
	require.NoError(t, err)

	outcomes, err := exec.Execute(context.Background(), planPages(t, 9, 1))
	require.NoError(t, err)
	for i, o := range outcomes {
		assert.Equal(t, i+1, o.BatchNumber)
		assert.True(t, o.Success)
		assert.Equal(t, 1, o.Attempts)
		assert.Equal(t, fmt.Sprintf("batch %d", i+1), o.Text)
	}
}

func TestExecutor_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		if calls.Add(1) < 3 {
			return "", &StatusError{StatusCode: 503, Message: "unavailable"}
		}
		return "ok", nil
	})
	exec, err := NewExecutor(extractor, nil, fastExecutorConfig())
	require.NoError(t, err)

	outcomes, err := exec.Execute(context.Background(), planPages(t, 1, 1))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Equal(t, "ok", outcomes[0].Text)
}

func TestExecutor_ExhaustedRetriesBecomeFailedOutcome(t *testing.T) {
	boom := errors.New("connection reset by peer")
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		if b.Number == 2 {
			return "", boom
		}
		return "ok", nil
	})
	exec, err := NewExecutor(extractor, nil, fastExecutorConfig())
	require.NoError(t, err)

	outcomes, err := exec.Execute(context.Background(), planPages(t, 3, 1))
	require.NoError(t, err)

	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[1].Success)
	assert.ErrorIs(t, outcomes[1].Err, boom)
	assert.Equal(t, 3, outcomes[1].Attempts)
	assert.Empty(t, outcomes[1].Text)
	assert.True(t, outcomes[2].Success)
}

func TestExecutor_FatalErrorAbortsRun(t *testing.T) {
	var calls atomic.Int64
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		calls.Add(1)
		if b.Number == 2 {
			return "", &StatusError{StatusCode: 401, Message: "invalid credentials"}
		}
		return "ok", nil
	})
	cfg := fastExecutorConfig()
	cfg.MaxConcurrent = 1
	exec, err := NewExecutor(extractor, nil, cfg)
	require.NoError(t, err)

	outcomes, err := exec.Execute(context.Background(), planPages(t, 5, 1))
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 2, fatal.BatchNumber)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(2), calls.Load(), "fatal errors are not retried and stop dispatch")

	require.Len(t, outcomes, 5)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, 1, outcomes[1].Attempts)
	for _, o := range outcomes[2:] {
		assert.False(t, o.Success)
		assert.ErrorIs(t, o.Err, ErrRunCanceled, "batch %d", o.BatchNumber)
	}
}

func TestExecutor_CallTimeoutReleasesSlot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		if b.Number == 1 {
			<-release
		}
		return "ok", nil
	})
	cfg := fastExecutorConfig()
	cfg.MaxConcurrent = 1
	cfg.RetryAttempts = 0
	cfg.CallTimeout = 20 * time.Millisecond
	exec, err := NewExecutor(extractor, nil, cfg)
	require.NoError(t, err)

	start := time.Now()
	outcomes, err := exec.Execute(context.Background(), planPages(t, 2, 1))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, outcomes[0].Success)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.True(t, outcomes[1].Success)
}

func TestExecutor_CancellationStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return "ok", nil
	})
	cfg := fastExecutorConfig()
	cfg.MaxConcurrent = 1
	exec, err := NewExecutor(extractor, nil, cfg)
	require.NoError(t, err)

	outcomes, err := exec.Execute(ctx, planPages(t, 10, 1))
	require.ErrorIs(t, err, ErrRunCanceled)
	require.Len(t, outcomes, 10)
	assert.LessOrEqual(t, calls.Load(), int64(3))
	assert.True(t, outcomes[0].Success)
	assert.ErrorIs(t, outcomes[9].Err, ErrRunCanceled)
}

func TestExecutor_ProgressEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	extractor := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		if b.Number == 3 {
			return "", errors.New("upstream 503")
		}
		return "ok", nil
	})
	exec, err := NewExecutor(extractor, nil, fastExecutorConfig(), WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), planPages(t, 4, 1))
	require.NoError(t, err)

	counts := map[ProgressStatus]int{}
	var maxPct float64
	for _, ev := range events {
		counts[ev.Status]++
		assert.Equal(t, 4, ev.TotalBatches)
		if ev.Status.Terminal() {
			maxPct = max(maxPct, ev.Percentage)
		}
	}
	assert.Equal(t, 4, counts[ProgressProcessing])
	assert.Equal(t, 3, counts[ProgressCompleted])
	assert.Equal(t, 1, counts[ProgressFailed])
	assert.Equal(t, 2, counts[ProgressRetrying])
	assert.Equal(t, 100.0, maxPct)
}

func TestExecutor_SharedRateLimiter(t *testing.T) {
	limiter, err := NewRateLimiter(PerMinute(2), WithWindow(100*time.Millisecond), WithSafetyMargin(0))
	require.NoError(t, err)
	exec, err := NewExecutor(ExtractorFunc(func(ctx context.Context, b Batch) (string, error) {
		return "ok", nil
	}), limiter, fastExecutorConfig())
	require.NoError(t, err)

	start := time.Now()
	_, err = exec.Execute(context.Background(), planPages(t, 5, 1))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestExecutor_Backoff(t *testing.T) {
	exec := &Executor{cfg: ExecutorConfig{
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		RateLimitFloor:     10 * time.Second,
		MaxRetryDelay:      3 * time.Second,
	}}

	assert.Equal(t, time.Second, exec.backoff(1, Retryable))
	assert.Equal(t, 2*time.Second, exec.backoff(2, Retryable))
	assert.Equal(t, 3*time.Second, exec.backoff(3, Retryable))
	assert.Equal(t, 10*time.Second, exec.backoff(1, RateLimited))
	assert.Equal(t, 10*time.Second, exec.backoff(5, RateLimited))

	exec.cfg.ExponentialBackoff = false
	assert.Equal(t, time.Second, exec.backoff(4, Retryable))
}

func TestExecutor_Backoff_LargeAttemptsStayCapped(t *testing.T) {
	exec := &Executor{cfg: ExecutorConfig{
		RetryDelay:         2 * time.Second,
		ExponentialBackoff: true,
		MaxRetryDelay:      2 * time.Minute,
	}}
	for _, attempt := range []int{8, 33, 34, 35, 64, 65, 100, 1000} {
		assert.Equal(t, 2*time.Minute, exec.backoff(attempt, Retryable), "attempt %d", attempt)
	}

	exec.cfg.MaxRetryDelay = 0
	assert.Equal(t, 2*time.Second<<32, exec.backoff(33, Retryable))
	assert.Equal(t, time.Duration(math.MaxInt64), exec.backoff(34, Retryable))
	assert.Equal(t, time.Duration(math.MaxInt64), exec.backoff(1000, Retryable))
}

func TestExecutor_Backoff_JitterRespectsMax(t *testing.T) {
	exec := &Executor{cfg: ExecutorConfig{
		RetryDelay:         time.Second,
		ExponentialBackoff: true,
		MaxRetryDelay:      3 * time.Second,
		Jitter:             true,
	}}
	for i := 0; i < 200; i++ {
		first := exec.backoff(1, Retryable)
		assert.GreaterOrEqual(t, first, time.Second)
		assert.LessOrEqual(t, first, 1200*time.Millisecond)

		for _, attempt := range []int{2, 3, 10, 40, 100} {
			d := exec.backoff(attempt, Retryable)
			assert.Positive(t, d)
			assert.LessOrEqual(t, d, 3*time.Second, "attempt %d", attempt)
		}
	}

	exec.cfg.MaxRetryDelay = 0
	assert.Equal(t, time.Duration(math.MaxInt64), exec.backoff(100, Retryable))
}

func TestNewExecutor_InvalidConfig(t *testing.T) {
	noop := ExtractorFunc(func(ctx context.Context, b Batch) (string, error) { return "", nil })
	for _, cfg := range []ExecutorConfig{
		{MaxConcurrent: 0},
		{MaxConcurrent: 1, RetryAttempts: -1},
		{MaxConcurrent: 1, RetryDelay: -time.Second},
		{MaxConcurrent: 1, CallTimeout: -time.Second},
	} {
		_, err := NewExecutor(noop, nil, cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}
	_, err := NewExecutor(nil, nil, fastExecutorConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
