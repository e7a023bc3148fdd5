package privacy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/llm2slm/llm2slm/pkg/privacy/audit"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
	"github.com/llm2slm/llm2slm/pkg/telemetry"
)

// mediumFailScore is the violation score above which the MEDIUM tier fails.
// The comparison is strictly greater-than.
const mediumFailScore = 0.8

// ValidationResult is the outcome of one validate call.
type ValidationResult struct {
	Passed            bool               `json:"passed"`
	Level             Level              `json:"level"`
	PIIDetected       bool               `json:"pii_detected"`
	PIICount          int                `json:"pii_count"`
	ContentViolations []filter.Violation `json:"content_violations"`
	Recommendations   []string           `json:"recommendations"`
}

// Validator applies the compliance-level decision table. It holds no state
// between calls except the shared audit log.
type Validator struct {
	level    Level
	auditLog *audit.Log
	logger   *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithLogger sets the validator's logger.
func WithLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator constructs a validator for the given level. A nil audit log
// gets a fresh in-memory log.
func NewValidator(level Level, auditLog *audit.Log, opts ...ValidatorOption) (*Validator, error) {
	if _, err := ParseLevel(string(level)); err != nil {
		return nil, err
	}
	if auditLog == nil {
		auditLog = audit.New()
	}
	v := &Validator{level: level, auditLog: auditLog, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Level returns the configured compliance tier.
func (v *Validator) Level() Level { return v.level }

// AuditLog returns the shared audit log.
func (v *Validator) AuditLog() *audit.Log { return v.auditLog }

// Validate checks one text. The detector and content filter are optional;
// a check only runs when its collaborator is supplied and the level enables
// it. Exactly one terminal audit entry (validation_passed or
// validation_failed) is appended per successful call, after any
// pii_detected/content_flagged entries. A backend error aborts the call and
// propagates; entries already appended stay in the log.
func (v *Validator) Validate(ctx context.Context, text string, detector pii.Detector, contentFilter *filter.Filter) (ValidationResult, error) {
	start := time.Now()

	var (
		piiDetected bool
		piiCount    int
		violations  []filter.Violation
		recs        []string
	)

	if detector != nil && v.level.checksPII() {
		spans, err := detector.Detect(ctx, text)
		if err != nil {
			return ValidationResult{}, err
		}
		piiCount = len(spans)
		piiDetected = piiCount > 0

		if piiDetected {
			entities := make([]string, len(spans))
			for i, span := range spans {
				entities[i] = string(span.EntityType)
			}
			v.auditLog.Add(audit.ActionPIIDetected, map[string]any{
				"count":    piiCount,
				"entities": entities,
			})
			recs = append(recs, fmt.Sprintf("Detected %d PII entities. Consider anonymizing before processing.", piiCount))
		}
	}

	if contentFilter != nil && v.level.checksContent() {
		result, err := contentFilter.Apply(ctx, text)
		if err != nil {
			return ValidationResult{}, err
		}
		if !result.Passed {
			violations = result.Violations

			categories := make([]string, len(violations))
			for i, violation := range violations {
				categories[i] = string(violation.Category)
			}
			v.auditLog.Add(audit.ActionContentFlagged, map[string]any{
				"violations": violations,
				"scores":     result.Scores,
			})
			recs = append(recs, "Content policy violations detected: "+strings.Join(categories, ", "))
		}
	}

	passed := v.decide(piiDetected, violations)

	terminal := audit.ActionValidationPassed
	if !passed {
		terminal = audit.ActionValidationFailed
	}
	v.auditLog.Add(terminal, map[string]any{
		"level":              string(v.level),
		"pii_detected":       piiDetected,
		"pii_count":          piiCount,
		"content_violations": len(violations),
	})

	telemetry.RecordValidation(ctx, telemetry.ValidationMetrics{
		Level:          string(v.level),
		Passed:         passed,
		PIICount:       piiCount,
		ViolationCount: len(violations),
		Duration:       time.Since(start),
	})

	v.logger.Debug("privacy validation completed",
		"level", string(v.level),
		"passed", passed,
		"pii_count", piiCount,
		"violations", len(violations),
	)

	return ValidationResult{
		Passed:            passed,
		Level:             v.level,
		PIIDetected:       piiDetected,
		PIICount:          piiCount,
		ContentViolations: violations,
		Recommendations:   recs,
	}, nil
}

// decide is the pure pass/fail function of the two checks' outcomes and the
// configured level.
func (v *Validator) decide(piiDetected bool, violations []filter.Violation) bool {
	switch v.level {
	case LevelStrict:
		return !piiDetected && len(violations) == 0
	case LevelHigh:
		return len(violations) == 0
	case LevelMedium:
		for _, violation := range violations {
			if violation.Score > mediumFailScore {
				return false
			}
		}
		return true
	default:
		// NONE and LOW never fail; LOW reports findings through
		// recommendations only.
		return true
	}
}

// ValidateBatch validates each text in input order. Items run sequentially
// because per-item audit entries must land in input order.
func (v *Validator) ValidateBatch(ctx context.Context, texts []string, detector pii.Detector, contentFilter *filter.Filter) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(texts))
	for _, text := range texts {
		result, err := v.Validate(ctx, text, detector, contentFilter)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// AuditSummary exposes the shared log's summary for status reporting.
func (v *Validator) AuditSummary() audit.Summary {
	return v.auditLog.GetSummary()
}
