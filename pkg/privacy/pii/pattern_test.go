package pii

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm2slm/llm2slm/pkg/domain"
)

func newDetector(t *testing.T, mutate func(*AnonymizationConfig)) *PatternDetector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewPatternDetector(cfg)
	require.NoError(t, err)
	return d
}

func TestDetectBuiltinEntities(t *testing.T) {
	d := newDetector(t, nil)

	cases := map[string]struct {
		text   string
		entity EntityType
		match  string
	}{
		"email":       {"reach me at john.doe+spam@example.co.uk today", EntityEmailAddress, "john.doe+spam@example.co.uk"},
		"phone":       {"call 555-123-4567 now", EntityPhoneNumber, "555-123-4567"},
		"credit card": {"card 4111 1111 1111 1111 on file", EntityCreditCard, "4111 1111 1111 1111"},
		"ssn":         {"ssn is 123-45-6789", EntityUSSSN, "123-45-6789"},
		"ip":          {"host 192.168.0.1 unreachable", EntityIPAddress, "192.168.0.1"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			spans, err := d.Detect(context.Background(), tc.text)
			require.NoError(t, err)
			require.NotEmpty(t, spans)
			assert.Equal(t, tc.entity, spans[0].EntityType)
			assert.Equal(t, tc.match, spans[0].Text)
			assert.Equal(t, tc.text[spans[0].Start:spans[0].End], spans[0].Text)
		})
	}
}

func TestDetectAssignsFixedScore(t *testing.T) {
	d := newDetector(t, nil)

	spans, err := d.Detect(context.Background(), "mail: a@b.io")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 0.9, spans[0].Score)
}

func TestDetectFixedScoreIgnoresThreshold(t *testing.T) {
	// Even a threshold above the fixed score must not drop pattern findings.
	d := newDetector(t, func(cfg *AnonymizationConfig) { cfg.ScoreThreshold = 0.95 })

	spans, err := d.Detect(context.Background(), "mail: a@b.io")
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestDetectRespectsEntitySet(t *testing.T) {
	d := newDetector(t, func(cfg *AnonymizationConfig) {
		cfg.Entities = map[EntityType]bool{EntityPhoneNumber: true}
	})

	spans, err := d.Detect(context.Background(), "a@b.io or 555-123-4567")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, EntityPhoneNumber, spans[0].EntityType)
}

func TestDetectCustomPatterns(t *testing.T) {
	d := newDetector(t, func(cfg *AnonymizationConfig) {
		// Custom patterns stay active even with a restricted entity set.
		cfg.Entities = map[EntityType]bool{EntityEmailAddress: true}
		cfg.CustomPatterns = map[string]string{"EMPLOYEE_ID": `EMP-\d{6}`}
	})

	spans, err := d.Detect(context.Background(), "badge EMP-123456 checked in")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, EntityType("EMPLOYEE_ID"), spans[0].EntityType)
	assert.Equal(t, "EMP-123456", spans[0].Text)
}

func TestNewPatternDetectorRejectsBadCustomPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomPatterns = map[string]string{"BROKEN": `[unclosed`}
	_, err := NewPatternDetector(cfg)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDetectOrdersSpansByStart(t *testing.T) {
	d := newDetector(t, nil)

	spans, err := d.Detect(context.Background(), "ip 10.0.0.1, mail x@y.io, phone 555-123-4567")
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.True(t, sort.SliceIsSorted(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	}))
}

func TestDetectHonorsCancelledContext(t *testing.T) {
	d := newDetector(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Detect(ctx, "a@b.io")
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseEntityTypeAndMethod(t *testing.T) {
	et, err := ParseEntityType("EMAIL_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, EntityEmailAddress, et)

	_, err = ParseEntityType("NOT_A_THING")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	m, err := ParseMethod("encrypt")
	require.NoError(t, err)
	assert.Equal(t, MethodEncrypt, m)

	_, err = ParseMethod("rot13")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
