// Package server exposes the privacy subsystem over HTTP: anonymization,
// content filtering, validation, conversion runs, and the audit summary.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/llm2slm/llm2slm/pkg/pipeline"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/audit"
	"github.com/llm2slm/llm2slm/pkg/privacy/compliance"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/onnx"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
	"github.com/llm2slm/llm2slm/pkg/telemetry"
)

// Options hold the assembled components the server exposes. Compliance and
// Runner are optional; the matching endpoints degrade gracefully without
// them.
type Options struct {
	Address    string
	Logger     *slog.Logger
	Version    string
	Validator  *privacy.Validator
	Anonymizer *pii.Anonymizer
	// AnonymizeConfig is the base configuration used when a request
	// overrides the anonymization method.
	AnonymizeConfig pii.AnonymizationConfig
	Detector        pii.Detector
	// DetectorBackend labels metrics with the active detector ("pattern" or "ml").
	DetectorBackend string
	Filter          *filter.Filter
	AuditLog        *audit.Log
	Compliance      *compliance.Engine
	Runner          *pipeline.Runner
	Availability    onnx.Availability
	Metrics         *telemetry.HTTPMetrics
	// CallTimeout bounds each backend call made on behalf of a request.
	CallTimeout time.Duration
}

// Server is the HTTP front of the privacy subsystem.
type Server struct {
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
}

// New assembles the server and its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewHTTPMetrics()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	s := &Server{opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("POST /anonymize", s.handleAnonymize)
	mux.HandleFunc("POST /filter", s.handleFilter)
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("GET /privacy/status", s.handlePrivacyStatus)
	mux.HandleFunc("GET /audit/summary", s.handleAuditSummary)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	handler := opts.Metrics.Middleware(mux)
	handler = otelhttp.NewHandler(handler, "llm2slm.http")

	s.httpServer = &http.Server{
		Addr:              opts.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
