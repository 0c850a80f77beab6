package rescache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/db"
	"github.com/kailas-cloud/vecroute/internal/domain"
)

var remoteKeyPrefix = domain.KeyPrefix + "rescache:"

// remote is the consumer interface for the shared second tier (ISP).
type remote interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, key string) error
}

type envelope[V any] struct {
	Label string `json:"label"`
	Value V      `json:"value"`
}

// Tiered fronts an optional shared store with the in-process cache.
// Remote failures are logged and treated as misses.
type Tiered[V any] struct {
	l1         *Cache[V]
	l2         remote
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// NewTiered creates a two-tier cache. l2 may be nil.
// cacheTotal is a counter vec with labels "tier" and "result", passed explicitly.
func NewTiered[V any](
	l1 *Cache[V], l2 remote, ttl time.Duration,
	cacheTotal *prometheus.CounterVec, logger *zap.Logger,
) *Tiered[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered[V]{l1: l1, l2: l2, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// Get looks up key in memory, then in the shared store.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.l1.Get(key); ok {
		t.inc("memory", "hit")
		return v, true
	}
	t.inc("memory", "miss")

	var zero V
	if t.l2 == nil {
		return zero, false
	}

	env, ok := t.getRemote(ctx, remoteKeyPrefix+key)
	if !ok {
		t.inc("redis", "miss")
		return zero, false
	}
	t.inc("redis", "hit")
	t.l1.Set(key, env.Value, WithTTL(t.ttl), WithLabel(env.Label))
	return env.Value, true
}

// Set stores value in both tiers.
func (t *Tiered[V]) Set(ctx context.Context, key, label string, value V) {
	t.l1.Set(key, value, WithTTL(t.ttl), WithLabel(label))
	if t.l2 == nil {
		return
	}

	data, err := json.Marshal(envelope[V]{Label: label, Value: value})
	if err != nil {
		t.logger.Warn("Failed to encode cached result", zap.String("key", key), zap.Error(err))
		return
	}
	if err := t.putRemote(ctx, remoteKeyPrefix+key, data); err != nil {
		t.logger.Warn("Failed to store cached result", zap.String("key", key), zap.Error(err))
	}
}

// putRemote stores without expiry when ttl is not positive.
func (t *Tiered[V]) putRemote(ctx context.Context, key string, data []byte) error {
	if t.ttl <= 0 {
		return t.l2.Set(ctx, key, data)
	}
	return t.l2.SetWithTTL(ctx, key, data, t.ttl)
}

// Clear removes matching entries from both tiers. See Cache.Clear for pattern semantics.
func (t *Tiered[V]) Clear(ctx context.Context, pattern string) int {
	n := t.l1.Clear(pattern)
	if t.l2 == nil {
		return n
	}

	keys, err := t.l2.Scan(ctx, remoteKeyPrefix+"*")
	if err != nil {
		t.logger.Warn("Failed to scan cached results", zap.Error(err))
		return n
	}
	p := strings.ToLower(pattern)
	for _, k := range keys {
		if p != "" && !t.remoteMatches(ctx, k, p) {
			continue
		}
		if err := t.l2.Del(ctx, k); err != nil {
			t.logger.Warn("Failed to delete cached result", zap.String("key", k), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Stats reports in-process counters.
func (t *Tiered[V]) Stats() Stats { return t.l1.Stats() }

// StartSweeper sweeps the in-process tier. The shared tier expires keys itself.
func (t *Tiered[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	t.l1.StartSweeper(ctx, interval)
}

func (t *Tiered[V]) remoteMatches(ctx context.Context, key, pattern string) bool {
	if strings.Contains(strings.ToLower(strings.TrimPrefix(key, remoteKeyPrefix)), pattern) {
		return true
	}
	env, ok := t.getRemote(ctx, key)
	return ok && strings.Contains(strings.ToLower(env.Label), pattern)
}

func (t *Tiered[V]) getRemote(ctx context.Context, key string) (envelope[V], bool) {
	var env envelope[V]
	data, err := t.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			t.logger.Warn("Failed to get cached result", zap.String("key", key), zap.Error(err))
		}
		return env, false
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.logger.Warn("Failed to parse cached result", zap.String("key", key), zap.Error(err))
		return env, false
	}
	return env, true
}

func (t *Tiered[V]) inc(tier, result string) {
	if t.cacheTotal != nil {
		t.cacheTotal.WithLabelValues(tier, result).Inc()
	}
}
