package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
)

const testPolicy = `package compliance

import rego.v1

default decision := {"allow": true}

decision := {"allow": false, "reasons": ["validation failed"]} if {
	not input.passed
}

decision := {"allow": false, "reasons": ["toxicity too high for external sources"]} if {
	input.passed
	input.source == "external"
	some v in input.content_violations
	v.category == "toxicity"
}
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"compliance.rego": testPolicy},
	})
	require.NoError(t, err)
	return engine
}

func TestEvaluateAllowsPassingResult(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Result: privacy.ValidationResult{Passed: true, Level: privacy.LevelMedium},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Empty(t, decision.Reasons)
}

func TestEvaluateDeniesFailedValidation(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Result: privacy.ValidationResult{Passed: false, Level: privacy.LevelHigh},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, []string{"validation failed"}, decision.Reasons)
}

func TestEvaluateUsesSourceAndViolations(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Source: "external",
		Result: privacy.ValidationResult{
			Passed: true,
			Level:  privacy.LevelLow,
			ContentViolations: []filter.Violation{
				{Category: filter.CategoryToxicity, Score: 0.9, Threshold: 0.7},
			},
		},
	})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	require.Len(t, decision.Reasons, 1)
	assert.Contains(t, decision.Reasons[0], "toxicity")
}

func TestEvaluateUndefinedEntrypointAllows(t *testing.T) {
	engine := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), Input{
		Entrypoint: "compliance/missing",
		Result:     privacy.ValidationResult{Passed: false},
	})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
}

func TestNewEngineRejectsEmptyModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestNewEngineRejectsBrokenModule(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"broken.rego": "package compliance\n\ndecision :="},
	})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.rego")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	modules, err := LoadModules([]string{path})
	require.NoError(t, err)
	assert.Equal(t, testPolicy, modules["rules.rego"])

	_, err = LoadModules([]string{path, path})
	assert.Error(t, err)

	_, err = LoadModules([]string{filepath.Join(dir, "absent.rego")})
	assert.Error(t, err)
}
