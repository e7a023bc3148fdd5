package compliance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy"
)

const defaultEntrypoint = "compliance/decision"

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "compliance/decision").
	Entrypoint string
	// Modules contains the Rego modules keyed by filename.
	Modules map[string]string
}

// Input carries one validation outcome into a policy evaluation.
type Input struct {
	// Entrypoint overrides the engine default for this evaluation.
	Entrypoint string
	// Result is the validation outcome under judgement.
	Result privacy.ValidationResult
	// Source identifies where the text came from (pipeline step, endpoint).
	Source string
	// Attributes carries caller-provided context for the policy.
	Attributes map[string]any
}

// Decision is the policy verdict over a validation outcome.
type Decision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
}

// Engine evaluates compliance decisions using an embedded OPA instance.
// Queries are prepared once per entrypoint and reused across evaluations.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

// NewEngine compiles the supplied Rego modules and warms the default
// entrypoint so syntax errors surface at construction time.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, domain.NewConfigError("compliance.policies", "", "at least one rego module is required")
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(opts.Modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, domain.NewConfigError("compliance.policies", name, fmt.Sprintf("parse rego module: %v", err))
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, domain.NewConfigError("compliance.policies", entry, fmt.Sprintf("compile rego modules: %v", err))
	}

	return engine, nil
}

// Evaluate runs the policy over one validation outcome.
//
// An evaluation that yields no result is treated as an allow; policies deny
// explicitly. A result of the wrong shape is an error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	violations := make([]map[string]any, len(input.Result.ContentViolations))
	for i, v := range input.Result.ContentViolations {
		violations[i] = map[string]any{
			"category":  string(v.Category),
			"score":     v.Score,
			"threshold": v.Threshold,
		}
	}

	payload := map[string]any{
		"level":              string(input.Result.Level),
		"passed":             input.Result.Passed,
		"pii_detected":       input.Result.PIIDetected,
		"pii_count":          input.Result.PIICount,
		"content_violations": violations,
		"source":             strings.TrimSpace(input.Source),
		"attributes":         input.Attributes,
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	raw, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	decision := Decision{}
	if allow, ok := raw["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reasons, ok := raw["reasons"].([]any); ok {
		for _, reason := range reasons {
			if s, ok := reason.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}

	return decision, nil
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}
