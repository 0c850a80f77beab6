package rescache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/db"
)

// mockRemote implements the consumer interface for tests.
type mockRemote struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	ttls   map[string]time.Duration
}

func newMockRemote() *mockRemote {
	return &mockRemote{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockRemote) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	delete(m.ttls, key)
	return nil
}

func (m *mockRemote) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockRemote) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mockRemote) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type payload struct {
	Items []string `json:"items"`
}

func TestTiered_WritesThroughAndReadsBack(t *testing.T) {
	r := newMockRemote()
	tc := NewTiered(New[payload](DefaultConfig()), r, time.Minute, nil, zap.NewNop())
	ctx := context.Background()

	tc.Set(ctx, "search:abc", "roborail [memory]", payload{Items: []string{"a"}})
	if r.ttls[remoteKeyPrefix+"search:abc"] != time.Minute {
		t.Errorf("expected remote ttl, got %v", r.ttls)
	}

	// a fresh process sees only the shared tier
	fresh := NewTiered(New[payload](DefaultConfig()), r, time.Minute, nil, zap.NewNop())
	v, ok := fresh.Get(ctx, "search:abc")
	if !ok || len(v.Items) != 1 || v.Items[0] != "a" {
		t.Fatalf("expected remote hit, got %+v %v", v, ok)
	}
	if fresh.Stats().Size != 1 {
		t.Error("remote hit must populate the memory tier")
	}
}

func TestTiered_RemoteErrorIsMiss(t *testing.T) {
	r := newMockRemote()
	r.getErr = errors.New("connection refused")
	tc := NewTiered(New[payload](DefaultConfig()), r, time.Minute, nil, nil)

	if _, ok := tc.Get(context.Background(), "search:x"); ok {
		t.Fatal("expected miss")
	}
}

func TestTiered_CorruptRemoteIsMiss(t *testing.T) {
	r := newMockRemote()
	r.data[remoteKeyPrefix+"search:x"] = []byte("{not json")
	tc := NewTiered(New[payload](DefaultConfig()), r, time.Minute, nil, nil)

	if _, ok := tc.Get(context.Background(), "search:x"); ok {
		t.Fatal("expected miss on corrupt data")
	}
}

func TestTiered_Clear(t *testing.T) {
	r := newMockRemote()
	tc := NewTiered(New[payload](DefaultConfig()), r, time.Minute, nil, nil)
	ctx := context.Background()

	tc.Set(ctx, "search:1", "roborail setup [memory]", payload{})
	tc.Set(ctx, "search:2", "pricing [pgvector]", payload{})

	// one per tier
	if n := tc.Clear(ctx, "roborail"); n != 2 {
		t.Errorf("expected 2 removals, got %d", n)
	}
	if _, ok := r.data[remoteKeyPrefix+"search:2"]; !ok {
		t.Error("non-matching remote entry must survive")
	}
	tc.Clear(ctx, "")
	if len(r.data) != 0 || tc.Stats().Size != 0 {
		t.Error("clear-all must empty both tiers")
	}
}

func TestTiered_MemoryOnly(t *testing.T) {
	tc := NewTiered(New[payload](DefaultConfig()), nil, time.Minute, nil, nil)
	ctx := context.Background()
	tc.Set(ctx, "k", "", payload{Items: []string{"x"}})
	if _, ok := tc.Get(ctx, "k"); !ok {
		t.Fatal("expected memory hit")
	}
	if n := tc.Clear(ctx, ""); n != 1 {
		t.Errorf("expected 1 removal, got %d", n)
	}
}

func TestTiered_ZeroTTLStoresWithoutExpiry(t *testing.T) {
	r := newMockRemote()
	tc := NewTiered(New[payload](DefaultConfig()), r, 0, nil, zap.NewNop())
	ctx := context.Background()

	tc.Set(ctx, "search:forever", "", payload{Items: []string{"a"}})

	key := remoteKeyPrefix + "search:forever"
	if _, ok := r.data[key]; !ok {
		t.Fatal("entry must reach the shared tier")
	}
	if _, ok := r.ttls[key]; ok {
		t.Errorf("zero ttl must not use SET EX, got ttl %v", r.ttls[key])
	}
}
