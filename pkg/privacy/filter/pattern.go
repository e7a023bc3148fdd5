package filter

import (
	"context"
	"regexp"
	"strings"
)

// profanityPatterns drive the heuristic backend. Coverage is intentionally
// basic; deployments needing real semantic scoring use the ML backend.
var profanityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(fuck|shit|damn|ass|bitch|bastard|crap)\b`),
	regexp.MustCompile(`\b(hell|piss|dick|pussy|cock|whore|slut)\b`),
}

// PatternClassifier is the keyword-heuristic classification backend. Every
// defined category starts at 0.0 and specific categories are raised when
// heuristics match. It is stateless and safe for concurrent use.
type PatternClassifier struct{}

// NewPatternClassifier constructs the heuristic backend.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Analyze scores the text. Empty input yields an empty map.
func (c *PatternClassifier) Analyze(ctx context.Context, text string) (map[Category]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return map[Category]float64{}, nil
	}

	scores := make(map[Category]float64, len(definedCategories))
	for _, cat := range definedCategories {
		scores[cat] = 0.0
	}

	lower := strings.ToLower(text)
	hits := 0
	for _, pattern := range profanityPatterns {
		hits += len(pattern.FindAllString(lower, -1))
	}
	if hits > 0 {
		scores[CategoryProfanity] = min(1.0, float64(hits)*0.3)
		scores[CategoryToxicity] = min(0.8, float64(hits)*0.2)
	}

	return scores, nil
}
