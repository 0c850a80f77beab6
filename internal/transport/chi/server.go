package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecroute/internal/domain"
	"github.com/kailas-cloud/vecroute/internal/domain/failure"
	"github.com/kailas-cloud/vecroute/internal/domain/search/request"
	"github.com/kailas-cloud/vecroute/internal/domain/search/result"
	"github.com/kailas-cloud/vecroute/internal/logger"
	healthuc "github.com/kailas-cloud/vecroute/internal/usecase/health"
	"github.com/kailas-cloud/vecroute/internal/usecase/provider"
	"github.com/kailas-cloud/vecroute/internal/usecase/resilience"
	searchuc "github.com/kailas-cloud/vecroute/internal/usecase/search"
)

const maxBodyBytes = 1 << 20

// Searcher runs searches and the administrative operations around them.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) (result.Response, error)
	ResetCircuitBreaker(name string) error
	ClearCache(ctx context.Context, pattern string) int
	Metrics() searchuc.Metrics
}

// HealthChecker reports provider health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
	Provider(ctx context.Context, name string) (provider.Health, error)
}

// FeedbackRecorder stores user ratings of results.
type FeedbackRecorder interface {
	Record(id string, rating int) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the search API.
type Server struct {
	search        Searcher
	health        HealthChecker
	feedback      FeedbackRecorder
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, health HealthChecker, feedback FeedbackRecorder, logger *zap.Logger) *Server {
	s := &Server{
		search:   search,
		health:   health,
		feedback: feedback,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnknownProvider, http.StatusNotFound, ErrorCodeUnknownProvider),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeValidation),
		validationHandler,
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/search", s.Search)
	r.Post("/feedback", s.Feedback)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/circuit-breakers/{provider}/reset", s.ResetCircuitBreaker)
		r.Delete("/cache", s.ClearCache)
		r.Get("/metrics", s.AdminMetrics)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeBadRequest, "method not allowed")
	})
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := request.New(body.params())
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidation, err.Error())
		return
	}

	resp, err := s.search.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	logger.FromContext(r.Context()).Debug("search served",
		zap.String("search_id", resp.RequestID),
		zap.Int("results", resp.TotalResults),
		zap.Bool("cache_hit", resp.Performance.CacheHit),
		zap.Bool("degraded", resp.Degraded),
	)
	writeJSON(w, http.StatusOK, searchResponseFrom(resp))
}

// Feedback handles POST /feedback.
func (s *Server) Feedback(w http.ResponseWriter, r *http.Request) {
	var body FeedbackRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.feedback.Record(body.DocumentID, body.Rating); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health and GET /health?provider={id}.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := runtime.BindQueryParameter("form", true, false, "provider", r.URL.Query(), &name); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid provider parameter")
		return
	}

	if name != "" {
		h, err := s.health.Provider(r.Context(), name)
		if err != nil {
			s.handleDomainError(r.Context(), w, err)
			return
		}
		status := http.StatusOK
		if !h.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, providerHealthFrom(h))
		return
	}

	report := s.health.Check(r.Context())
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	providers := make([]ProviderHealth, 0, len(report.Providers))
	for _, h := range report.Providers {
		providers = append(providers, providerHealthFrom(h))
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{
		Status:    string(report.Status),
		Checks:    checks,
		Providers: providers,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ResetCircuitBreaker handles POST /admin/circuit-breakers/{provider}/reset.
func (s *Server) ResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	var name string
	err := runtime.BindStyledParameterWithOptions("simple", "provider", chi.URLParam(r, "provider"), &name,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid provider parameter")
		return
	}
	if err := s.search.ResetCircuitBreaker(name); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{Provider: name, State: string(resilience.Closed)})
}

// ClearCache handles DELETE /admin/cache?pattern={substring}.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	var pattern string
	if err := runtime.BindQueryParameter("form", true, false, "pattern", r.URL.Query(), &pattern); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid pattern parameter")
		return
	}
	n := s.search.ClearCache(r.Context(), pattern)
	writeJSON(w, http.StatusOK, ClearCacheResponse{Pattern: pattern, Removed: n})
}

// AdminMetrics handles GET /admin/metrics.
func (s *Server) AdminMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.search.Metrics())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrUnknownProvider,
		domain.ErrProviderDisabled,
		domain.ErrCircuitOpen,
		domain.ErrNoProviderAvailable,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler maps errors explicitly marked VALIDATION to 400.
func validationHandler(w http.ResponseWriter, err error, msg string) bool {
	if !failure.IsMarked(err, failure.Validation) {
		return false
	}
	if msg == "internal error" {
		msg = "validation failed"
	}
	writeError(w, http.StatusBadRequest, ErrorCodeValidation, msg)
	return true
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := s.logger
	if l := logger.FromContext(ctx); l.Core().Enabled(zap.ErrorLevel) {
		log = l
	}
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal error")
}
