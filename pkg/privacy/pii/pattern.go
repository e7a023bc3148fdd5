package pii

import (
	"context"
	"regexp"
	"sort"

	"github.com/llm2slm/llm2slm/pkg/domain"
)

// patternScore is the fixed confidence assigned to regex matches. The
// pattern backend has no confidence model, so its spans are never filtered
// by the configured score threshold.
const patternScore = 0.9

// builtinPatterns covers the structured entity types a regex can identify
// with acceptable precision. Free-text types (PERSON, LOCATION, ...) require
// the ML backend.
var builtinPatterns = []struct {
	entity  EntityType
	pattern string
}{
	{EntityEmailAddress, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{EntityPhoneNumber, `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`},
	{EntityCreditCard, `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`},
	{EntityUSSSN, `\b\d{3}-\d{2}-\d{4}\b`},
	{EntityIPAddress, `\b(?:\d{1,3}\.){3}\d{1,3}\b`},
}

type patternRule struct {
	entity EntityType
	expr   *regexp.Regexp
}

// PatternDetector is the regex detection backend. It compiles its rules once
// at construction and is safe for concurrent use.
type PatternDetector struct {
	rules []patternRule
}

// NewPatternDetector compiles the built-in patterns selected by the entity
// set plus any custom patterns. Custom patterns are explicitly configured,
// so they are always active regardless of the entity set; their name becomes
// the span's entity type.
func NewPatternDetector(cfg AnonymizationConfig) (*PatternDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules := make([]patternRule, 0, len(builtinPatterns)+len(cfg.CustomPatterns))
	for _, bp := range builtinPatterns {
		if !cfg.wantsEntity(bp.entity) {
			continue
		}
		rules = append(rules, patternRule{entity: bp.entity, expr: regexp.MustCompile(bp.pattern)})
	}

	customNames := make([]string, 0, len(cfg.CustomPatterns))
	for name := range cfg.CustomPatterns {
		customNames = append(customNames, name)
	}
	sort.Strings(customNames)
	for _, name := range customNames {
		expr, err := regexp.Compile(cfg.CustomPatterns[name])
		if err != nil {
			return nil, domain.NewConfigError("custom_patterns", name, "invalid pattern: "+err.Error())
		}
		rules = append(rules, patternRule{entity: EntityType(name), expr: expr})
	}

	return &PatternDetector{rules: rules}, nil
}

// Detect applies every compiled rule and returns findings ordered by start
// offset. Overlapping spans from different rules are reported as found.
func (d *PatternDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var spans []Span
	for _, rule := range d.rules {
		for _, match := range rule.expr.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{
				EntityType: rule.entity,
				Start:      match[0],
				End:        match[1],
				Score:      patternScore,
				Text:       text[match[0]:match[1]],
			})
		}
	}

	sortSpans(spans)
	return spans, nil
}

// sortSpans orders spans by start offset, then end offset, keeping the
// discovery order of exact duplicates stable.
func sortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start == spans[j].Start {
			return spans[i].End < spans[j].End
		}
		return spans[i].Start < spans[j].Start
	})
}
