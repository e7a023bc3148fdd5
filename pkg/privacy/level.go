package privacy

import (
	"strings"

	"github.com/llm2slm/llm2slm/pkg/domain"
)

// Level is the policy tier controlling which checks run and how strictly
// they gate validation.
type Level string

const (
	// LevelNone runs no checks and always passes.
	LevelNone Level = "none"
	// LevelLow runs PII detection but is informational only: findings are
	// reported via recommendations and never fail validation. Whether this
	// tier should gain a real failure threshold is a product decision; the
	// current behavior is deliberate.
	LevelLow Level = "low"
	// LevelMedium adds content filtering; only violations scoring above
	// 0.8 fail validation.
	LevelMedium Level = "medium"
	// LevelHigh fails validation on any content violation.
	LevelHigh Level = "high"
	// LevelStrict fails validation on any PII finding or content
	// violation.
	LevelStrict Level = "strict"
)

// ParseLevel validates a privacy level name from an external option map.
func ParseLevel(name string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(name)))
	switch l {
	case LevelNone, LevelLow, LevelMedium, LevelHigh, LevelStrict:
		return l, nil
	default:
		return "", domain.NewConfigError("level", name, "unknown privacy level")
	}
}

// checksPII reports whether the tier runs PII detection at all.
func (l Level) checksPII() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelStrict:
		return true
	default:
		return false
	}
}

// checksContent reports whether the tier runs content filtering at all.
func (l Level) checksContent() bool {
	switch l {
	case LevelMedium, LevelHigh, LevelStrict:
		return true
	default:
		return false
	}
}
