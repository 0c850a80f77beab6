package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain/failure"
)

// RetryConfig bounds retry behaviour on top of the classified policy.
type RetryConfig struct {
	// MaxRetries caps the classified retry count.
	MaxRetries int
	// AttemptTimeout bounds every single attempt. Zero disables the per-attempt timer.
	AttemptTimeout    time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		AttemptTimeout:    30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Retrier re-invokes failed operations according to the error's classified policy.
type Retrier struct {
	cfg    RetryConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithSleep replaces the backoff sleeper. Used in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) { r.sleep = fn }
}

// WithJitterSource replaces the random source in [0,1). Used in tests.
func WithJitterSource(fn func() float64) RetrierOption {
	return func(r *Retrier) { r.jitter = fn }
}

// NewRetrier creates a retry executor.
func NewRetrier(cfg RetryConfig, logger *zap.Logger, opts ...RetrierOption) *Retrier {
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{cfg: cfg, logger: logger, sleep: sleepCtx, jitter: rand.Float64}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retry runs op until it succeeds, the classified policy forbids another attempt,
// or ctx ends. The returned error is always a *failure.Error with Attempts set.
func Retry[T any](
	ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr *failure.Error

	for attempt := 0; ; attempt++ {
		v, err := runAttempt(ctx, r.cfg.AttemptTimeout, op)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("Operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempts", attempt+1),
				)
			}
			return v, nil
		}

		lastErr = failure.Classify(err)
		lastErr.Attempts = attempt + 1

		maxRetries := min(lastErr.MaxRetries, r.cfg.MaxRetries)
		if !lastErr.Retryable || attempt >= maxRetries {
			r.logger.Warn("Operation failed",
				zap.String("operation", name),
				zap.String("category", string(lastErr.Category)),
				zap.Int("attempts", lastErr.Attempts),
				zap.Error(lastErr.Err),
			)
			return zero, lastErr
		}

		delay := r.backoff(lastErr, attempt+1)
		r.logger.Debug("Retrying operation",
			zap.String("operation", name),
			zap.String("category", string(lastErr.Category)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
}

// backoff computes min(maxDelay, base*mult^(attempt-1)) plus jitter.
func (r *Retrier) backoff(e *failure.Error, attempt int) time.Duration {
	d := float64(e.BaseDelay) * math.Pow(r.cfg.BackoffMultiplier, float64(attempt-1))
	if maxD := float64(e.MaxDelay); maxD > 0 && d > maxD {
		d = maxD
	}
	d += r.jitter() * e.JitterFactor * d
	return time.Duration(d)
}

type attemptResult[T any] struct {
	v   T
	err error
}

// runAttempt races op against the per-attempt timeout. The attempt context is
// released on every path; an abandoned op finishes into a buffered channel.
func runAttempt[T any](
	ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	ch := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- attemptResult[T]{err: errors.New("operation panicked")}
			}
		}()
		v, err := op(actx)
		ch <- attemptResult[T]{v: v, err: err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, context.DeadlineExceeded
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
