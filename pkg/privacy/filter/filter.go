package filter

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// rejectedMarker replaces the whole text under ActionReject.
const rejectedMarker = "[REJECTED]"

// blocklistMarker replaces the whole text when the blocklist fires under
// ActionRedact.
const blocklistMarker = "[BLOCKED - Custom Blocklist]"

// Filter decides pass/fail and output text for one classification backend
// and one immutable policy. It is safe for concurrent use.
type Filter struct {
	cfg        Config
	classifier Classifier
}

// New validates the policy and binds it to a classification backend chosen
// by the caller.
func New(cfg Config, classifier Classifier) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, fmt.Errorf("filter: classifier is required")
	}
	return &Filter{cfg: cfg, classifier: classifier}, nil
}

// Enabled reports whether the policy evaluates anything at all.
func (f *Filter) Enabled() bool { return f.cfg.Enabled }

// Action returns the configured enforcement action.
func (f *Filter) Action() Action { return f.cfg.Action }

// Apply filters one text.
//
// Order of evaluation: disabled short-circuit, blocklist short-circuit (the
// classifier is bypassed entirely), then per-category threshold comparison.
func (f *Filter) Apply(ctx context.Context, text string) (Result, error) {
	if !f.cfg.Enabled {
		return Result{Text: text, Passed: true, ActionTaken: ActionAllow}, nil
	}

	if f.matchesBlocklist(text) {
		out := text
		if f.cfg.Action == ActionRedact {
			out = blocklistMarker
		} else if f.cfg.Action == ActionReject {
			out = rejectedMarker
		}
		return Result{
			Text:        out,
			Passed:      false,
			Violations:  []Violation{{Category: CategoryBlocklist, Score: 1.0, Threshold: 1.0}},
			ActionTaken: f.cfg.Action,
		}, nil
	}

	scores, err := f.classifier.Analyze(ctx, text)
	if err != nil {
		return Result{}, err
	}

	var violations []Violation
	for _, cat := range sortedCategories(f.cfg.Categories) {
		score, ok := scores[cat]
		if !ok {
			continue
		}
		threshold := f.cfg.threshold(cat)
		if score >= threshold {
			violations = append(violations, Violation{Category: cat, Score: score, Threshold: threshold})
		}
	}

	passed := len(violations) == 0
	out := text
	action := ActionAllow
	if !passed {
		action = f.cfg.Action
		switch f.cfg.Action {
		case ActionRedact:
			names := make([]string, len(violations))
			for i, v := range violations {
				names[i] = string(v.Category)
			}
			out = fmt.Sprintf("[CONTENT FILTERED - %s]", strings.Join(names, ", "))
		case ActionReject:
			out = rejectedMarker
		}
	}

	return Result{
		Text:        out,
		Passed:      passed,
		Violations:  violations,
		Scores:      scores,
		ActionTaken: action,
	}, nil
}

// ApplyBatch filters each text independently with a bounded fan-out,
// returning results in input order. The first error aborts the batch.
func (f *Filter) ApplyBatch(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	errs := make([]error, len(texts))

	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = f.Apply(ctx, text)
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// matchesBlocklist reports a case-insensitive substring hit against the
// custom blocklist.
func (f *Filter) matchesBlocklist(text string) bool {
	if len(f.cfg.CustomBlocklist) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range f.cfg.CustomBlocklist {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// sortedCategories fixes the violation iteration order: defined-category
// order first, then lexicographic for anything else.
func sortedCategories(set map[Category]bool) []Category {
	rank := make(map[Category]int, len(definedCategories))
	for i, cat := range definedCategories {
		rank[cat] = i
	}

	cats := make([]Category, 0, len(set))
	for cat := range set {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		ri, iOK := rank[cats[i]]
		rj, jOK := rank[cats[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return cats[i] < cats[j]
		}
	})
	return cats
}
