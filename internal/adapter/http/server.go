package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// UserHeader identifies the consumer for cooldown purposes. Requests without
// it are keyed by client IP.
const UserHeader = "X-User-ID"

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Fetcher serves coordinated source records.
type Fetcher interface {
	Get(ctx context.Context, key string, params map[string]string) domain.Outcome
	Source(key string) (domain.Source, bool)
	Sources() []domain.Source
}

// Limiter throttles consumers.
type Limiter interface {
	Allow(ctx context.Context, userID string) error
}

// Server exposes the source API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	fetcher    Fetcher
	limiter    Limiter
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1/sources routes. A nil limiter disables cooldowns.
func NewServer(addr string, ready ReadinessChecker, fetcher Fetcher, limiter Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Covers a source's full retry budget.
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		fetcher: fetcher,
		limiter: limiter,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/sources", s.handleSources)
	mux.HandleFunc("GET /v1/sources/{key}", s.handleGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type sourceView struct {
	Key        string   `json:"key"`
	Format     string   `json:"format"`
	Normalizer string   `json:"normalizer"`
	TTLSeconds float64  `json:"ttl_seconds"`
	Auth       string   `json:"auth,omitempty"`
	Params     []string `json:"params,omitempty"`
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	srcs := s.fetcher.Sources()
	out := make([]sourceView, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, sourceView{
			Key:        src.Key,
			Format:     string(src.Format),
			Normalizer: src.Normalizer,
			TTLSeconds: src.TTL.Seconds(),
			Auth:       string(src.Auth.Kind),
			Params:     src.Params,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type recordView struct {
	Source     string  `json:"source"`
	Status     string  `json:"status"`
	FetchedAt  string  `json:"fetched_at"`
	AgeSeconds float64 `json:"age_seconds"`
	Record     any     `json:"record"`
}

type failureView struct {
	Source     string `json:"source"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts,omitempty"`
	LastStatus int    `json:"last_status,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	// Unknown sources and parameters are rejected before the cooldown is charged.
	src, ok := s.fetcher.Source(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, failureView{
			Source: key,
			Status: string(domain.StatusFailure),
			Error:  fmt.Sprintf("%v: %q", domain.ErrUnknownSource, key),
		})
		return
	}

	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if err := src.CheckParams(params); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          err.Error(),
			"allowed_params": allowed(src),
		})
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(r.Context(), userID(r)); err != nil {
			var rl *domain.RateLimitedError
			if errors.As(err, &rl) {
				secs := int(math.Ceil(rl.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":               err.Error(),
					"retry_after_seconds": secs,
				})
				return
			}
			// Limiter backend errors fail open.
			s.logger.Warn("cooldown check failed", "error", err)
		}
	}

	out := s.fetcher.Get(r.Context(), key, params)
	w.Header().Set("X-Cache-Status", string(out.Status))

	if out.OK() {
		writeJSON(w, http.StatusOK, recordView{
			Source:     key,
			Status:     string(out.Status),
			FetchedAt:  out.FetchedAt.Format(time.RFC3339),
			AgeSeconds: out.Age.Seconds(),
			Record:     out.Record,
		})
		return
	}

	fv := failureView{Source: key, Status: string(out.Status)}
	status := http.StatusServiceUnavailable
	if fe := out.Err; fe != nil {
		fv.Error = fe.Error()
		fv.Attempts = fe.Attempts
		fv.LastStatus = fe.LastStatus
		switch {
		case fe.Normalization != nil:
			fv.Kind = string(fe.Normalization.Kind)
		case fe.Transport != nil:
			fv.Kind = string(fe.Transport.Kind)
		}
		if errors.Is(fe, domain.ErrUnknownSource) {
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, fv)
}

func allowed(src domain.Source) []string {
	if src.Params == nil {
		return []string{}
	}
	return src.Params
}

func userID(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
