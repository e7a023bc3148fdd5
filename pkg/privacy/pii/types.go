package pii

import (
	"context"
	"regexp"
	"strings"

	"github.com/llm2slm/llm2slm/pkg/domain"
)

// EntityType labels a detected PII span. The set is closed: ParseEntityType
// rejects names outside it so configuration mistakes surface as config
// errors, not as silently-ignored entities. Custom pattern names registered
// through AnonymizationConfig.CustomPatterns are the one sanctioned escape
// hatch and carry their pattern name as the type.
type EntityType string

const (
	EntityEmailAddress    EntityType = "EMAIL_ADDRESS"
	EntityPhoneNumber     EntityType = "PHONE_NUMBER"
	EntityCreditCard      EntityType = "CREDIT_CARD"
	EntityUSSSN           EntityType = "US_SSN"
	EntityPerson          EntityType = "PERSON"
	EntityLocation        EntityType = "LOCATION"
	EntityDateTime        EntityType = "DATE_TIME"
	EntityUSPassport      EntityType = "US_PASSPORT"
	EntityUSDriverLicense EntityType = "US_DRIVER_LICENSE"
	EntityIPAddress       EntityType = "IP_ADDRESS"
	EntityIBANCode        EntityType = "IBAN_CODE"
	EntityMedicalLicense  EntityType = "MEDICAL_LICENSE"
	EntityCrypto          EntityType = "CRYPTO"

	// EntityUnknown is the explicit unsupported variant; it never matches a
	// configured entity set.
	EntityUnknown EntityType = "UNKNOWN"
)

var knownEntityTypes = map[EntityType]bool{
	EntityEmailAddress:    true,
	EntityPhoneNumber:     true,
	EntityCreditCard:      true,
	EntityUSSSN:           true,
	EntityPerson:          true,
	EntityLocation:        true,
	EntityDateTime:        true,
	EntityUSPassport:      true,
	EntityUSDriverLicense: true,
	EntityIPAddress:       true,
	EntityIBANCode:        true,
	EntityMedicalLicense:  true,
	EntityCrypto:          true,
}

// ParseEntityType validates an entity type name from an external option map.
func ParseEntityType(name string) (EntityType, error) {
	et := EntityType(strings.ToUpper(strings.TrimSpace(name)))
	if !knownEntityTypes[et] {
		return EntityUnknown, domain.NewConfigError("entities", name, "unknown entity type")
	}
	return et, nil
}

// Method selects how a detected span is rewritten.
type Method string

const (
	// MethodMask replaces each matched character with the mask character,
	// preserving span length.
	MethodMask Method = "mask"
	// MethodRedact replaces the whole span with a fixed marker.
	MethodRedact Method = "redact"
	// MethodReplace substitutes a placeholder naming the entity type.
	MethodReplace Method = "replace"
	// MethodHash substitutes a deterministic hash of the matched substring.
	MethodHash Method = "hash"
	// MethodEncrypt substitutes a reversible transform under a fixed key.
	// This is a demo-grade placeholder, not a security control.
	MethodEncrypt Method = "encrypt"
)

// ParseMethod validates an anonymization method name.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case MethodMask, MethodRedact, MethodReplace, MethodHash, MethodEncrypt:
		return m, nil
	default:
		return "", domain.NewConfigError("method", name, "unknown anonymization method")
	}
}

// Span is one detected PII occurrence. Offsets are byte offsets into the
// analyzed text. Spans are ordered by start offset; overlapping spans are
// reported as found, without deduplication.
type Span struct {
	EntityType EntityType `json:"entity_type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Score      float64    `json:"score"`
	Text       string     `json:"text"`
}

// AnonymizationConfig is an immutable value constructed once per caller need.
type AnonymizationConfig struct {
	Enabled        bool
	Method         Method
	Entities       map[EntityType]bool
	Language       string
	ScoreThreshold float64
	MaskChar       rune
	CustomPatterns map[string]string
}

// DefaultConfig returns the baseline configuration covering the full entity
// set with mask anonymization.
func DefaultConfig() AnonymizationConfig {
	entities := make(map[EntityType]bool, len(knownEntityTypes))
	for et := range knownEntityTypes {
		entities[et] = true
	}
	return AnonymizationConfig{
		Enabled:        true,
		Method:         MethodMask,
		Entities:       entities,
		Language:       "en",
		ScoreThreshold: 0.6,
		MaskChar:       '*',
	}
}

// Validate checks enum values and custom pattern syntax, reporting the first
// problem as a configuration error.
func (c AnonymizationConfig) Validate() error {
	if _, err := ParseMethod(string(c.Method)); err != nil {
		return err
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return domain.NewConfigError("score_threshold", "", "must be in [0,1]")
	}
	for name, pattern := range c.CustomPatterns {
		if strings.TrimSpace(name) == "" {
			return domain.NewConfigError("custom_patterns", "", "pattern name is required")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return domain.NewConfigError("custom_patterns", name, "invalid pattern: "+err.Error())
		}
	}
	return nil
}

// wantsEntity reports whether the config restricts detection to the given
// type. An empty entity set means "no restriction".
func (c AnonymizationConfig) wantsEntity(et EntityType) bool {
	if len(c.Entities) == 0 {
		return true
	}
	return c.Entities[et]
}

// Detector is the capability shared by both backend variants.
type Detector interface {
	// Detect returns spans ordered by start offset.
	Detect(ctx context.Context, text string) ([]Span, error)
}
