package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/llm2slm/llm2slm/internal/governance"
	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/pipeline"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/audit"
	"github.com/llm2slm/llm2slm/pkg/privacy/compliance"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
	"github.com/llm2slm/llm2slm/pkg/telemetry"
)

// HeaderSessionID carries the caller's session identifier; absent, one is
// generated per request.
const HeaderSessionID = "X-Session-ID"

type anonymizeRequest struct {
	Text   string `json:"text"`
	Method string `json:"method,omitempty"`
}

type anonymizeResponse struct {
	Text     string     `json:"text"`
	Entities []pii.Span `json:"entities"`
	Method   string     `json:"method"`
}

type filterRequest struct {
	Text string `json:"text"`
}

type validateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

type validateResponse struct {
	Validation privacy.ValidationResult `json:"validation"`
	Compliance *compliance.Decision     `json:"compliance,omitempty"`
}

type convertRequest struct {
	ModelID   string   `json:"model_id"`
	Texts     []string `json:"texts,omitempty"`
	OutputDir string   `json:"output_dir,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type privacyStatusResponse struct {
	Level                string `json:"level"`
	AnonymizationEnabled bool   `json:"anonymization_enabled"`
	AnonymizationMethod  string `json:"anonymization_method"`
	FilterEnabled        bool   `json:"filter_enabled"`
	FilterAction         string `json:"filter_action"`
	DetectorBackend      string `json:"detector_backend"`
	MLAvailable          bool   `json:"ml_available"`
	MLUnavailableReason  string `json:"ml_unavailable_reason,omitempty"`
	ComplianceEnabled    bool   `json:"compliance_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.opts.Version})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := s.sessionID(w, r)

	var req anonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	anonymizer := s.opts.Anonymizer
	method := string(s.opts.AnonymizeConfig.Method)
	if req.Method != "" {
		parsed, err := pii.ParseMethod(req.Method)
		if err != nil {
			s.writeError(ctx, w, r, err)
			return
		}
		method = string(parsed)
		cfg := s.opts.AnonymizeConfig
		cfg.Method = parsed
		override, err := pii.NewAnonymizer(cfg, s.opts.Detector)
		if err != nil {
			s.writeError(ctx, w, r, err)
			return
		}
		anonymizer = override
	}
	if anonymizer == nil {
		s.writeError(ctx, w, r, domain.NewConfigError("anonymizer", "", "anonymization is not configured"))
		return
	}

	type anonymizeOutcome struct {
		text  string
		spans []pii.Span
	}
	outcome, err := governance.CallWithTimeout(ctx, s.opts.CallTimeout, func(ctx context.Context) (anonymizeOutcome, error) {
		spans, err := anonymizer.Detect(ctx, req.Text)
		if err != nil {
			return anonymizeOutcome{}, err
		}
		text, err := anonymizer.Anonymize(ctx, req.Text)
		if err != nil {
			return anonymizeOutcome{}, err
		}
		return anonymizeOutcome{text: text, spans: spans}, nil
	})
	if err != nil {
		s.writeError(ctx, w, r, err)
		return
	}

	if s.opts.AuditLog != nil && len(outcome.spans) > 0 {
		s.opts.AuditLog.Add(audit.ActionPIIAnonymized, map[string]any{
			"count":  len(outcome.spans),
			"method": method,
		}, audit.WithSession(sessionID))
	}
	telemetry.RecordAnonymization(ctx, method, s.opts.DetectorBackend, len(outcome.spans))

	spans := outcome.spans
	if spans == nil {
		spans = []pii.Span{}
	}
	s.writeJSON(w, http.StatusOK, anonymizeResponse{Text: outcome.text, Entities: spans, Method: method})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := s.sessionID(w, r)

	var req filterRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.opts.Filter == nil {
		s.writeError(ctx, w, r, domain.NewConfigError("filter", "", "content filtering is not configured"))
		return
	}

	result, err := governance.CallWithTimeout(ctx, s.opts.CallTimeout, func(ctx context.Context) (filter.Result, error) {
		return s.opts.Filter.Apply(ctx, req.Text)
	})
	if err != nil {
		s.writeError(ctx, w, r, err)
		return
	}

	if s.opts.AuditLog != nil && !result.Passed {
		action := audit.ActionContentFlagged
		switch result.ActionTaken {
		case filter.ActionReject:
			action = audit.ActionContentRejected
		case filter.ActionRedact:
			action = audit.ActionContentFiltered
		}
		s.opts.AuditLog.Add(action, map[string]any{
			"violations": result.Violations,
			"action":     string(result.ActionTaken),
		}, audit.WithSession(sessionID))
	}
	telemetry.RecordFilter(ctx, string(result.ActionTaken), result.Passed)

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.sessionID(w, r)

	var req validateRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.opts.Validator == nil {
		s.writeError(ctx, w, r, domain.NewConfigError("validator", "", "validation is not configured"))
		return
	}

	result, err := governance.CallWithTimeout(ctx, s.opts.CallTimeout, func(ctx context.Context) (privacy.ValidationResult, error) {
		return s.opts.Validator.Validate(ctx, req.Text, s.opts.Detector, s.opts.Filter)
	})
	if err != nil {
		s.writeError(ctx, w, r, err)
		return
	}

	resp := validateResponse{Validation: result}
	if s.opts.Compliance != nil {
		decision, err := s.opts.Compliance.Evaluate(ctx, compliance.Input{
			Result: result,
			Source: req.Source,
		})
		if err != nil {
			s.writeError(ctx, w, r, err)
			return
		}
		resp.Compliance = &decision
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.sessionID(w, r)

	var req convertRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.opts.Runner == nil {
		s.writeErrorResponse(ctx, w, http.StatusServiceUnavailable, "PIPELINE_UNAVAILABLE", "conversion pipeline is not configured")
		return
	}

	result, err := s.opts.Runner.Run(ctx, pipeline.Request{
		ModelID:   req.ModelID,
		Texts:     req.Texts,
		OutputDir: req.OutputDir,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrPrivacyRejected) {
			s.writeErrorResponse(ctx, w, http.StatusUnprocessableEntity, "PRIVACY_REJECTED", "input rejected by privacy validation")
			return
		}
		s.writeError(ctx, w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePrivacyStatus(w http.ResponseWriter, r *http.Request) {
	status := privacyStatusResponse{
		AnonymizationEnabled: s.opts.AnonymizeConfig.Enabled,
		AnonymizationMethod:  string(s.opts.AnonymizeConfig.Method),
		DetectorBackend:      s.opts.DetectorBackend,
		MLAvailable:          s.opts.Availability.OK,
		MLUnavailableReason:  s.opts.Availability.Reason,
		ComplianceEnabled:    s.opts.Compliance != nil,
	}
	if s.opts.Validator != nil {
		status.Level = string(s.opts.Validator.Level())
	}
	if s.opts.Filter != nil {
		status.FilterEnabled = s.opts.Filter.Enabled()
		status.FilterAction = string(s.opts.Filter.Action())
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if s.opts.AuditLog == nil {
		s.writeErrorResponse(r.Context(), w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "audit log is not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.AuditLog.GetSummary())
}

// sessionID returns the caller-provided session ID or generates one; either
// way the value is echoed back on the response.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		id = uuid.New().String()
	}
	w.Header().Set(HeaderSessionID, id)
	return id
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeErrorResponse(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON")
		return false
	}
	return true
}

// writeError maps a domain error onto a status code and the standard error body.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, domain.ErrDependencyUnavailable):
		status, code = http.StatusServiceUnavailable, "ML_UNAVAILABLE"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	case errors.Is(err, domain.ErrBackend):
		status, code = http.StatusBadGateway, "BACKEND_ERROR"
	}

	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"code", code,
		"error", err,
	)
	s.opts.Metrics.RecordRequestError(r.Method, r.URL.Path, code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		// Do not leak internals on unexpected failures.
		message = "internal error"
	}
	s.writeErrorResponse(ctx, w, status, code, message)
}

// writeErrorResponse writes the standard JSON error body with the current
// trace ID attached when a span is recording.
func (s *Server) writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string) {
	var traceID string
	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{Code: code, Message: message, TraceID: traceID}); err != nil {
		s.logger.Error("failed to encode error response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
