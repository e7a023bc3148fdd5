package filter

import (
	"context"
	"strings"

	"github.com/llm2slm/llm2slm/pkg/domain"
)

// Category labels one class of harmful content. The set is closed;
// ParseCategory rejects unknown names with a configuration error.
type Category string

const (
	CategoryToxicity       Category = "toxicity"
	CategorySevereToxicity Category = "severe_toxicity"
	CategoryObscene        Category = "obscene"
	CategoryThreat         Category = "threat"
	CategoryInsult         Category = "insult"
	CategoryIdentityAttack Category = "identity_attack"
	CategorySexualExplicit Category = "sexual_explicit"
	CategoryProfanity      Category = "profanity"
	CategoryHateSpeech     Category = "hate_speech"

	// CategoryUnknown is the explicit unsupported variant.
	CategoryUnknown Category = "unknown"

	// CategoryBlocklist is the synthetic category reported when the custom
	// blocklist short-circuits the classifier. It is not configurable.
	CategoryBlocklist Category = "custom_blocklist"
)

// definedCategories fixes the category universe and its deterministic
// iteration order.
var definedCategories = []Category{
	CategoryToxicity,
	CategorySevereToxicity,
	CategoryObscene,
	CategoryThreat,
	CategoryInsult,
	CategoryIdentityAttack,
	CategorySexualExplicit,
	CategoryProfanity,
	CategoryHateSpeech,
}

// ParseCategory validates a category name from an external option map.
func ParseCategory(name string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range definedCategories {
		if c == known {
			return c, nil
		}
	}
	return CategoryUnknown, domain.NewConfigError("categories", name, "unknown content category")
}

// Action selects what happens to text that violates the policy.
type Action string

const (
	// ActionAllow lets content pass untouched.
	ActionAllow Action = "allow"
	// ActionFlag records the violation but keeps the original text.
	ActionFlag Action = "flag"
	// ActionRedact replaces the whole text with a marker naming the
	// violated categories.
	ActionRedact Action = "redact"
	// ActionReject replaces the whole text with a fixed rejection marker.
	ActionReject Action = "reject"
)

// ParseAction validates a filter action name.
func ParseAction(name string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(name)))
	switch a {
	case ActionAllow, ActionFlag, ActionRedact, ActionReject:
		return a, nil
	default:
		return "", domain.NewConfigError("action", name, "unknown filter action")
	}
}

// defaultThreshold applies when a configured category has no explicit
// threshold.
const defaultThreshold = 0.7

// Config is an immutable filter configuration constructed once per caller
// need. An empty Categories set means nothing is evaluated, so no violation
// is possible.
type Config struct {
	Enabled         bool
	Categories      map[Category]bool
	Thresholds      map[Category]float64
	Action          Action
	CustomBlocklist []string
	ModelName       string
}

// DefaultConfig mirrors the baseline policy: the six core categories with
// per-category thresholds and flag-only enforcement.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Categories: map[Category]bool{
			CategoryToxicity:       true,
			CategorySevereToxicity: true,
			CategoryObscene:        true,
			CategoryThreat:         true,
			CategoryInsult:         true,
			CategoryIdentityAttack: true,
		},
		Thresholds: map[Category]float64{
			CategoryToxicity:       0.7,
			CategorySevereToxicity: 0.5,
			CategoryObscene:        0.7,
			CategoryThreat:         0.5,
			CategoryInsult:         0.7,
			CategoryIdentityAttack: 0.7,
			CategorySexualExplicit: 0.8,
			CategoryProfanity:      0.7,
			CategoryHateSpeech:     0.6,
		},
		Action:    ActionFlag,
		ModelName: "original",
	}
}

// Validate checks enum values, reporting the first problem as a
// configuration error.
func (c Config) Validate() error {
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	for cat := range c.Categories {
		if _, err := ParseCategory(string(cat)); err != nil {
			return err
		}
	}
	for cat, th := range c.Thresholds {
		if th < 0 || th > 1 {
			return domain.NewConfigError("thresholds", string(cat), "must be in [0,1]")
		}
	}
	return nil
}

// threshold returns the configured cutoff for a category, falling back to
// the default when absent.
func (c Config) threshold(cat Category) float64 {
	if th, ok := c.Thresholds[cat]; ok {
		return th
	}
	return defaultThreshold
}

// Violation records one threshold breach.
type Violation struct {
	Category  Category `json:"category"`
	Score     float64  `json:"score"`
	Threshold float64  `json:"threshold"`
}

// Result is the outcome of one filter application.
type Result struct {
	Text        string               `json:"text"`
	Passed      bool                 `json:"passed"`
	Violations  []Violation          `json:"violations"`
	Scores      map[Category]float64 `json:"scores"`
	ActionTaken Action               `json:"action_taken"`
}

// Classifier is the capability shared by both backend variants.
type Classifier interface {
	// Analyze scores text per category; every score is in [0,1] and every
	// key is a defined category.
	Analyze(ctx context.Context, text string) (map[Category]float64, error)
}
