package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm2slm/llm2slm/internal/governance"
	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/audit"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
)

// flakyDetector fails its first n calls with a backend error, then succeeds.
type flakyDetector struct {
	failures int
	calls    int
}

func (d *flakyDetector) Detect(ctx context.Context, text string) ([]pii.Span, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, &domain.BackendError{Backend: "ner", Err: errors.New("transient")}
	}
	return nil, nil
}

func newTestAnonymizer(t *testing.T) *pii.Anonymizer {
	t.Helper()
	cfg := pii.DefaultConfig()
	cfg.Method = pii.MethodRedact
	detector, err := pii.NewPatternDetector(cfg)
	require.NoError(t, err)
	anonymizer, err := pii.NewAnonymizer(cfg, detector)
	require.NoError(t, err)
	return anonymizer
}

func newTestValidator(t *testing.T, level privacy.Level) *privacy.Validator {
	t.Helper()
	validator, err := privacy.NewValidator(level, audit.New())
	require.NoError(t, err)
	return validator
}

func TestRunExecutesAllStepsInOrder(t *testing.T) {
	anonymizer := newTestAnonymizer(t)
	runner, err := NewRunner(Options{
		Validator:  newTestValidator(t, privacy.LevelLow),
		Anonymizer: anonymizer,
		Detector:   anonymizer,
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), Request{
		ModelID: "gpt-neo",
		Texts:   []string{"Email: test@example.com", "nothing sensitive"},
	})
	require.NoError(t, err)

	steps := make([]Step, len(result.Steps))
	for i, s := range result.Steps {
		steps[i] = s.Step
	}
	assert.Equal(t, []Step{StepLoadModel, StepPrivacyValidate, StepPrivacyAnonymize, StepProcessModel, StepExportSLM}, steps)

	assert.Equal(t, "gpt-neo-slm", result.SLMID)
	assert.Equal(t, "Email: [REDACTED]", result.Texts[0])
	assert.Equal(t, "nothing sensitive", result.Texts[1])
	require.Len(t, result.Validations, 2)
	assert.True(t, result.Validations[0].Passed) // LOW reports but never fails
}

func TestRunStrictPrivacyAbortsOnFailedValidation(t *testing.T) {
	anonymizer := newTestAnonymizer(t)
	runner, err := NewRunner(Options{
		Validator:     newTestValidator(t, privacy.LevelStrict),
		Anonymizer:    anonymizer,
		Detector:      anonymizer,
		StrictPrivacy: true,
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), Request{
		ModelID: "gpt-neo",
		Texts:   []string{"Contact test@example.com"},
	})
	require.ErrorIs(t, err, ErrPrivacyRejected)

	// The run stopped before anonymization and export.
	assert.Empty(t, result.SLMID)
	for _, s := range result.Steps {
		assert.NotEqual(t, StepProcessModel, s.Step)
	}
}

func TestRunWithoutPrivacyComponentsSkips(t *testing.T) {
	runner, err := NewRunner(Options{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), Request{ModelID: "m", Texts: []string{"raw"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, result.Texts)
	assert.Empty(t, result.Validations)
}

func TestNewRunnerStrictRequiresComponents(t *testing.T) {
	_, err := NewRunner(Options{StrictPrivacy: true})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewRunner(Options{StrictPrivacy: true, Validator: newTestValidator(t, privacy.LevelHigh)})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRunRetriesTransientBackendFailure(t *testing.T) {
	detector := &flakyDetector{failures: 1}
	retry := governance.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	runner, err := NewRunner(Options{
		Validator: newTestValidator(t, privacy.LevelLow),
		Detector:  detector,
		Retry:     &retry,
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), Request{ModelID: "m", Texts: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, 2, detector.calls)
	require.Len(t, result.Validations, 1)
	assert.True(t, result.Validations[0].Passed)
}

func TestRunExhaustsRetriesOnPersistentBackendFailure(t *testing.T) {
	detector := &flakyDetector{failures: 10}
	retry := governance.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	runner, err := NewRunner(Options{
		Validator: newTestValidator(t, privacy.LevelLow),
		Detector:  detector,
		Retry:     &retry,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Request{ModelID: "m", Texts: []string{"hello"}})
	require.ErrorIs(t, err, domain.ErrBackend)
	assert.Equal(t, 2, detector.calls)
}

func TestRunRequiresModelID(t *testing.T) {
	runner, err := NewRunner(Options{})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Request{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
