package pii

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"
)

// redactedMarker replaces a whole span under MethodRedact.
const redactedMarker = "[REDACTED]"

// encryptKey is a fixed demo key for the reversible ENCRYPT method. This is
// deliberately not a security control; the method exists to exercise a
// reversible transform in the anonymization interface.
const encryptKey = "WmZq4t7w!z%C*F-J"

// encryptPrefix tags reversible tokens so Decrypt can recognize them.
const encryptPrefix = "enc_"

// Anonymizer rewrites detected PII spans according to the configured method.
// It is safe for concurrent use once constructed.
type Anonymizer struct {
	cfg      AnonymizationConfig
	detector Detector
}

// NewAnonymizer validates the configuration and binds it to a detection
// backend chosen by the caller.
func NewAnonymizer(cfg AnonymizationConfig, detector Detector) (*Anonymizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, fmt.Errorf("pii: anonymizer requires a detector")
	}
	return &Anonymizer{cfg: cfg, detector: detector}, nil
}

// Detect exposes the underlying backend for callers that need raw spans.
func (a *Anonymizer) Detect(ctx context.Context, text string) ([]Span, error) {
	return a.detector.Detect(ctx, text)
}

// ValidateText reports whether the text contains any detectable PII.
func (a *Anonymizer) ValidateText(ctx context.Context, text string) (bool, error) {
	spans, err := a.detector.Detect(ctx, text)
	if err != nil {
		return false, err
	}
	return len(spans) > 0, nil
}

// Anonymize rewrites every detected span. A disabled config is the identity
// function and performs no detection at all.
func (a *Anonymizer) Anonymize(ctx context.Context, text string) (string, error) {
	if !a.cfg.Enabled {
		return text, nil
	}

	spans, err := a.detector.Detect(ctx, text)
	if err != nil {
		return "", err
	}
	if len(spans) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, span := range spans {
		// Spans arrive ordered by start; a span overlapping an already
		// rewritten region is skipped (its text was consumed by the
		// previous replacement).
		if span.Start < cursor {
			continue
		}
		b.WriteString(text[cursor:span.Start])
		b.WriteString(a.transform(span))
		cursor = span.End
	}
	b.WriteString(text[cursor:])

	return b.String(), nil
}

// AnonymizeBatch anonymizes each text independently with a bounded fan-out,
// returning results in input order. The first error aborts the batch.
func (a *Anonymizer) AnonymizeBatch(ctx context.Context, texts []string) ([]string, error) {
	results := make([]string, len(texts))
	errs := make([]error, len(texts))

	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = a.Anonymize(ctx, text)
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

func (a *Anonymizer) transform(span Span) string {
	switch a.cfg.Method {
	case MethodMask:
		return strings.Repeat(string(a.cfg.MaskChar), utf8.RuneCountInString(span.Text))
	case MethodRedact:
		return redactedMarker
	case MethodReplace:
		return "<" + string(span.EntityType) + ">"
	case MethodHash:
		return hashToken(span.Text)
	case MethodEncrypt:
		return encryptToken(span.Text)
	default:
		return span.Text
	}
}

// hashToken derives a deterministic, non-reversible token from the exact
// matched substring: the same substring always yields the same token.
func hashToken(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "hash_" + hex.EncodeToString(sum[:6])
}

// encryptToken applies a reversible XOR transform under the fixed demo key.
func encryptToken(s string) string {
	data := []byte(s)
	for i := range data {
		data[i] ^= encryptKey[i%len(encryptKey)]
	}
	return encryptPrefix + base64.RawURLEncoding.EncodeToString(data)
}

// Decrypt reverses a token produced by the ENCRYPT method.
func Decrypt(token string) (string, error) {
	encoded, ok := strings.CutPrefix(token, encryptPrefix)
	if !ok {
		return "", fmt.Errorf("pii: not an encrypted token")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("pii: decode encrypted token: %w", err)
	}
	for i := range data {
		data[i] ^= encryptKey[i%len(encryptKey)]
	}
	return string(data), nil
}
