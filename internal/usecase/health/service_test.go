package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/search/candidate"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
)

// --- Mocks ---

type mockBackend struct {
	name    string
	pingErr error
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) SearchByEmbedding(context.Context, []float32, provider.Query) ([]candidate.Candidate, error) {
	return nil, nil
}

func (m *mockBackend) Ping(context.Context) error { return m.pingErr }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

func registry(t *testing.T, adapters ...provider.Adapter) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry()
	for _, a := range adapters {
		if err := r.Register(a, nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return r
}

func guarded(name string, pingErr error) provider.Adapter {
	return provider.NewGuarded(&mockBackend{name: name, pingErr: pingErr}, nil, nil, nil, provider.GuardedOptions{}, nil)
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(registry(t, guarded("a", nil), guarded("b", nil)), &mockEmbeddingChecker{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks["a"] != CheckOK || r.Checks["b"] != CheckOK {
		t.Errorf("unexpected checks: %v", r.Checks)
	}
	if r.Checks["embedding"] != CheckOK {
		t.Errorf("expected embedding %q, got %q", CheckOK, r.Checks["embedding"])
	}
	if len(r.Providers) != 2 || r.Providers[0].Provider != "a" {
		t.Errorf("providers must keep registration order: %+v", r.Providers)
	}
}

func TestCheck_OneProviderDown(t *testing.T) {
	svc := New(registry(t, guarded("a", nil), guarded("b", errors.New("conn refused"))), nil)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["b"] != CheckError {
		t.Errorf("expected b %q, got %q", CheckError, r.Checks["b"])
	}
	if r.Providers[1].Error == "" {
		t.Error("failing provider must carry its error")
	}
}

func TestCheck_AllProvidersDown(t *testing.T) {
	svc := New(registry(t, guarded("a", errors.New("down"))), &mockEmbeddingChecker{})
	if r := svc.Check(context.Background()); r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}

func TestCheck_EmbeddingError(t *testing.T) {
	svc := New(registry(t, guarded("a", nil)), &mockEmbeddingChecker{err: errors.New("timeout")})
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["embedding"] != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks["embedding"])
	}
}

func TestCheck_DisabledProviderIgnoredInStatus(t *testing.T) {
	svc := New(registry(t, guarded("a", nil), provider.NewDisabled("milvus", "address not set")), nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks["milvus"] != CheckDisabled {
		t.Errorf("expected milvus %q, got %q", CheckDisabled, r.Checks["milvus"])
	}
	if _, ok := r.Checks["embedding"]; ok {
		t.Error("embedding check should be absent when embedding is nil")
	}
}

func TestCheck_OnlyDisabledProviders(t *testing.T) {
	svc := New(registry(t, provider.NewDisabled("pgvector", "dsn not set")), nil)
	if r := svc.Check(context.Background()); r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
}

func TestProvider(t *testing.T) {
	svc := New(registry(t, guarded("a", nil)), nil)

	h, err := svc.Provider(context.Background(), "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Healthy || h.Latency < 0 || h.Latency > time.Second {
		t.Errorf("unexpected health: %+v", h)
	}

	if _, err := svc.Provider(context.Background(), "nope"); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}
