package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain"
)

// State is the circuit breaker state.
type State string

// Breaker states.
const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold  int
	SuccessThreshold  int
	RecoveryTimeout   time.Duration
	MonitorWindow     time.Duration
	MinimumThroughput int
}

// DefaultBreakerConfig returns the standard breaker thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		SuccessThreshold:  3,
		RecoveryTimeout:   60 * time.Second,
		MonitorWindow:     5 * time.Minute,
		MinimumThroughput: 10,
	}
}

// BreakerMetrics is a snapshot of breaker counters.
type BreakerMetrics struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	RequestCount int       `json:"request_count"`
	LastFailure  time.Time `json:"last_failure,omitzero"`
	WindowStart  time.Time `json:"window_start"`
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to State)

// Breaker is a per-provider circuit breaker. Safe for concurrent use.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	logger   *zap.Logger
	now      func() time.Time
	onChange StateChangeFunc

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	requestCount int
	trials       int
	lastFailure  time.Time
	windowStart  time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition observer. It runs outside the breaker lock.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger, opts ...BreakerOption) *Breaker {
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger, now: time.Now, state: Closed}
	for _, o := range opts {
		o(b)
	}
	b.windowStart = b.now()
	return b
}

// Name returns the protected provider id.
func (b *Breaker) Name() string { return b.name }

// Guard runs op through the breaker. Calls rejected while open fail with
// domain.ErrCircuitOpen without invoking op.
func Guard[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	defer func() {
		if p := recover(); p != nil {
			b.release(fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()
	v, err := op(ctx)
	b.release(err)
	return v, err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	now := b.now()
	b.rollWindow(now)

	var changed bool
	from := b.state
	switch b.state {
	case Open:
		if now.Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, domain.ErrCircuitOpen)
		}
		b.setState(HalfOpen)
		changed = true
	case HalfOpen:
		if b.trials >= b.cfg.SuccessThreshold {
			b.mu.Unlock()
			return fmt.Errorf("%s: trial limit reached: %w", b.name, domain.ErrCircuitOpen)
		}
	}
	if b.state == HalfOpen {
		b.trials++
	}
	b.requestCount++
	b.mu.Unlock()

	if changed {
		b.notify(from, HalfOpen)
	}
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	from := b.state
	if b.state == HalfOpen && b.trials > 0 {
		b.trials--
	}

	switch {
	case err == nil:
		b.onSuccess()
	case errors.Is(err, context.Canceled):
		// caller went away; says nothing about provider health
	default:
		b.onFailure()
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) onSuccess() {
	if b.state != HalfOpen {
		return
	}
	b.successCount++
	if b.successCount >= b.cfg.SuccessThreshold {
		b.setState(Closed)
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailure = b.now()
	switch b.state {
	case HalfOpen:
		b.setState(Open)
	case Closed:
		if b.requestCount >= b.cfg.MinimumThroughput && b.failureCount >= b.cfg.FailureThreshold {
			b.setState(Open)
		}
	}
}

// rollWindow starts a fresh monitoring window. Must hold mu.
func (b *Breaker) rollWindow(now time.Time) {
	if b.cfg.MonitorWindow <= 0 || now.Sub(b.windowStart) < b.cfg.MonitorWindow {
		return
	}
	b.windowStart = now
	b.requestCount = 0
	if b.state == Closed {
		b.failureCount = 0
	}
}

// setState switches state and resets per-state counters. Must hold mu.
func (b *Breaker) setState(s State) {
	b.state = s
	b.trials = 0
	switch s {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case HalfOpen:
		b.successCount = 0
	case Open:
		b.successCount = 0
	}
}

func (b *Breaker) notify(from, to State) {
	b.logger.Info("Circuit breaker state changed",
		zap.String("provider", b.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker past its recovery timeout
// still reports OPEN until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerMetrics{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		RequestCount: b.requestCount,
		LastFailure:  b.lastFailure,
		WindowStart:  b.windowStart,
	}
}

// Reset forces the breaker closed and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.setState(Closed)
	b.requestCount = 0
	b.lastFailure = time.Time{}
	b.windowStart = b.now()
	b.mu.Unlock()

	if from != Closed {
		b.notify(from, Closed)
	}
}
