// Package pipeline sequences a model conversion run: load, privacy
// validation, anonymization, processing, and export. The model steps are
// placeholder glue until a conversion backend lands; the privacy steps are
// real and gate what reaches them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llm2slm/llm2slm/internal/governance"
	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
)

// Step names a pipeline stage.
type Step string

const (
	StepLoadModel        Step = "load_model"
	StepPrivacyValidate  Step = "privacy_validate"
	StepPrivacyAnonymize Step = "privacy_anonymize"
	StepProcessModel     Step = "process_model"
	StepExportSLM        Step = "export_slm"
)

// ErrPrivacyRejected is returned when strict privacy is enabled and a
// calibration text fails validation.
var ErrPrivacyRejected = errors.New("pipeline: text rejected by privacy validation")

// Options configure a Runner. Validator and Anonymizer are optional unless
// StrictPrivacy is set, in which case both must be present.
type Options struct {
	Validator     *privacy.Validator
	Anonymizer    *pii.Anonymizer
	Filter        *filter.Filter
	Detector      pii.Detector
	Logger        *slog.Logger
	StrictPrivacy bool
	// StepTimeout bounds each privacy step; zero disables the deadline.
	StepTimeout time.Duration
	// Retry governs re-execution of privacy steps that fail with a transient
	// backend error. Nil selects governance.DefaultRetryConfig.
	Retry *governance.RetryConfig
}

// Request describes one conversion run. Texts carries the calibration
// prompts that flow through the privacy steps before processing.
type Request struct {
	ModelID   string
	Texts     []string
	OutputDir string
}

// StepResult records one executed stage.
type StepResult struct {
	Step     Step           `json:"step"`
	Duration time.Duration  `json:"duration"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a conversion run.
type Result struct {
	ModelID     string                     `json:"model_id"`
	SLMID       string                     `json:"slm_id"`
	Texts       []string                   `json:"texts"`
	Validations []privacy.ValidationResult `json:"validations,omitempty"`
	Steps       []StepResult               `json:"steps"`
}

// Runner executes conversion requests sequentially.
type Runner struct {
	opts Options
}

// NewRunner validates the options and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.StrictPrivacy {
		if opts.Validator == nil {
			return nil, domain.NewConfigError("pipeline.strict_privacy", "", "strict privacy requires a validator")
		}
		if opts.Anonymizer == nil {
			return nil, domain.NewConfigError("pipeline.strict_privacy", "", "strict privacy requires an anonymizer")
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry == nil {
		cfg := governance.DefaultRetryConfig()
		opts.Retry = &cfg
	}
	return &Runner{opts: opts}, nil
}

// Run executes the five stages in order. Under strict privacy a failed
// validation aborts the run with ErrPrivacyRejected; otherwise failures are
// logged and the texts continue into anonymization.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.ModelID == "" {
		return Result{}, domain.NewConfigError("pipeline.model_id", "", "model id is required")
	}

	result := Result{
		ModelID: req.ModelID,
		Texts:   req.Texts,
	}

	run := func(step Step, fn func(context.Context) (map[string]any, error)) error {
		start := time.Now()
		detail, err := fn(ctx)
		result.Steps = append(result.Steps, StepResult{
			Step:     step,
			Duration: time.Since(start),
			Detail:   detail,
		})
		if err != nil {
			return fmt.Errorf("pipeline step %s: %w", step, err)
		}
		r.opts.Logger.Debug("pipeline step completed", "step", string(step), "duration", time.Since(start))
		return nil
	}

	if err := run(StepLoadModel, func(ctx context.Context) (map[string]any, error) {
		// Placeholder until a model backend is wired in.
		return map[string]any{"model_id": req.ModelID, "texts": len(req.Texts)}, nil
	}); err != nil {
		return result, err
	}

	if err := run(StepPrivacyValidate, func(ctx context.Context) (map[string]any, error) {
		return r.validateTexts(ctx, &result)
	}); err != nil {
		return result, err
	}

	if err := run(StepPrivacyAnonymize, func(ctx context.Context) (map[string]any, error) {
		return r.anonymizeTexts(ctx, &result)
	}); err != nil {
		return result, err
	}

	if err := run(StepProcessModel, func(ctx context.Context) (map[string]any, error) {
		// Placeholder compression stage.
		return map[string]any{"model_id": req.ModelID}, nil
	}); err != nil {
		return result, err
	}

	if err := run(StepExportSLM, func(ctx context.Context) (map[string]any, error) {
		result.SLMID = req.ModelID + "-slm"
		detail := map[string]any{"slm_id": result.SLMID}
		if req.OutputDir != "" {
			detail["output_dir"] = req.OutputDir
		}
		return detail, nil
	}); err != nil {
		return result, err
	}

	return result, nil
}

func (r *Runner) validateTexts(ctx context.Context, result *Result) (map[string]any, error) {
	if r.opts.Validator == nil {
		return map[string]any{"skipped": true}, nil
	}

	failed := 0
	for _, text := range result.Texts {
		var vr privacy.ValidationResult
		err := governance.Retry(ctx, *r.opts.Retry, func(ctx context.Context) error {
			var callErr error
			vr, callErr = governance.CallWithTimeout(ctx, r.opts.StepTimeout, func(ctx context.Context) (privacy.ValidationResult, error) {
				return r.opts.Validator.Validate(ctx, text, r.opts.Detector, r.opts.Filter)
			})
			return callErr
		})
		if err != nil {
			return nil, err
		}
		result.Validations = append(result.Validations, vr)
		if vr.Passed {
			continue
		}
		failed++
		if r.opts.StrictPrivacy {
			return map[string]any{"failed": failed}, ErrPrivacyRejected
		}
		r.opts.Logger.Warn("text failed privacy validation, continuing",
			"level", string(vr.Level),
			"pii_count", vr.PIICount,
			"violations", len(vr.ContentViolations),
		)
	}

	return map[string]any{"validated": len(result.Texts), "failed": failed}, nil
}

func (r *Runner) anonymizeTexts(ctx context.Context, result *Result) (map[string]any, error) {
	if r.opts.Anonymizer == nil {
		return map[string]any{"skipped": true}, nil
	}

	var anonymized []string
	err := governance.Retry(ctx, *r.opts.Retry, func(ctx context.Context) error {
		var callErr error
		anonymized, callErr = governance.CallWithTimeout(ctx, r.opts.StepTimeout, func(ctx context.Context) ([]string, error) {
			return r.opts.Anonymizer.AnonymizeBatch(ctx, result.Texts)
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	result.Texts = anonymized

	return map[string]any{"anonymized": len(anonymized)}, nil
}
