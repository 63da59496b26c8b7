package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/id"
)

const defaultMaxBodyBytes = 50 << 20

type transformer interface {
	Transform(ctx context.Context, payload string) (domain.TransformResult, error)
	ProviderName() string
}

type Options struct {
	StaticDir              string
	AllowedOrigins         []string
	MaxBodyBytes           int64
	RateLimiter            RateLimiter
	RateLimitSubjectHeader string
	Tracer                 trace.Tracer
	Collectors             []prometheus.Collector
}

type Server struct {
	logger                 *log.Logger
	relay                  transformer
	mux                    *http.ServeMux
	metrics                *metrics
	rateLimiter            RateLimiter
	rateLimitSubjectHeader string
	tracer                 trace.Tracer
	allowedOrigins         map[string]struct{}
	allowAnyOrigin         bool
	maxBodyBytes           int64
	staticDir              string
}

func NewServer(logger *log.Logger, relay transformer, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxBodyBytes := opts.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		logger:                 logger,
		relay:                  relay,
		mux:                    http.NewServeMux(),
		metrics:                newMetrics(opts.Collectors...),
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: opts.RateLimitSubjectHeader,
		tracer:                 opts.Tracer,
		allowedOrigins:         make(map[string]struct{}, len(opts.AllowedOrigins)),
		maxBodyBytes:           maxBodyBytes,
		staticDir:              strings.TrimSpace(opts.StaticDir),
	}
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			s.allowAnyOrigin = true
			continue
		}
		if origin != "" {
			s.allowedOrigins[origin] = struct{}{}
		}
	}

	s.routes()
	return s
}

// Handler returns the mux wrapped in the full middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withCORS(h)
	h = s.withRequestID(h)
	return s.withRecover(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /api/transform", s.handleTransform)
	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.relay.ProviderName(),
	})
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	requestID := id.RequestIDFromContext(r.Context())

	var req domain.TransformRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		status, message := decodeFailure(err)
		s.logger.Printf("transform rejected request_id=%s status=%d err=%v", requestID, status, err)
		writeJSON(w, status, domain.Failure(message))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Failure(domain.MessageFor(err)))
		return
	}

	result, err := s.relay.Transform(r.Context(), req.Payload())
	if err != nil {
		status := domain.StatusFor(err)
		s.logger.Printf("transform failed request_id=%s status=%d category=%s", requestID, status, domain.Classify(err))
		writeJSON(w, status, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

var errEmptyBody = errors.New("request body is empty")

func decodeFailure(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, domain.MessageTooLarge
	case errors.Is(err, errEmptyBody):
		return http.StatusBadRequest, domain.MessageMissingImage
	default:
		return http.StatusBadRequest, domain.MessageInvalidImage
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any, maxBodyBytes int64) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
