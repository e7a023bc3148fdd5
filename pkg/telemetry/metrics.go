package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	validationCounter    metric.Int64Counter
	validationFailures   metric.Int64Counter
	piiEntityCounter     metric.Int64Counter
	violationCounter     metric.Int64Counter
	anonymizationCounter metric.Int64Counter
	filterCounter        metric.Int64Counter
	detectLatency        metric.Float64Histogram
)

// ValidationMetrics captures the fields needed to record a privacy validation outcome.
type ValidationMetrics struct {
	Level          string
	Passed         bool
	PIICount       int
	ViolationCount int
	Duration       time.Duration
}

// RecordValidation emits counters and latency describing a single validation pass.
func RecordValidation(ctx context.Context, m ValidationMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("privacy.level", m.Level),
		attribute.Bool("privacy.passed", m.Passed),
	}

	validationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !m.Passed {
		validationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.PIICount > 0 {
		piiEntityCounter.Add(ctx, int64(m.PIICount), metric.WithAttributes(attrs...))
	}
	if m.ViolationCount > 0 {
		violationCounter.Add(ctx, int64(m.ViolationCount), metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		detectLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordAnonymization counts anonymized texts partitioned by method and backend.
func RecordAnonymization(ctx context.Context, method string, backend string, entities int) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("anonymize.method", method),
		attribute.String("detector.backend", backend),
	}

	anonymizationCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if entities > 0 {
		piiEntityCounter.Add(ctx, int64(entities), metric.WithAttributes(attrs...))
	}
}

// RecordFilter counts filtered texts partitioned by the action taken.
func RecordFilter(ctx context.Context, action string, passed bool) {
	if err := ensureMetrics(); err != nil {
		return
	}

	filterCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("filter.action", action),
		attribute.Bool("filter.passed", passed),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("llm2slm.privacy")

		validationCounter, metricsInitErr = meter.Int64Counter(
			"privacy.validations_total",
			metric.WithDescription("Privacy validations partitioned by level and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		validationFailures, metricsInitErr = meter.Int64Counter(
			"privacy.validation_failures_total",
			metric.WithDescription("Privacy validations that did not pass"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		piiEntityCounter, metricsInitErr = meter.Int64Counter(
			"privacy.pii_entities_total",
			metric.WithDescription("PII entities detected across validations and anonymizations"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		violationCounter, metricsInitErr = meter.Int64Counter(
			"privacy.content_violations_total",
			metric.WithDescription("Content policy violations detected by the filter"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		anonymizationCounter, metricsInitErr = meter.Int64Counter(
			"privacy.anonymizations_total",
			metric.WithDescription("Texts anonymized partitioned by method and backend"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		filterCounter, metricsInitErr = meter.Int64Counter(
			"privacy.filter_applied_total",
			metric.WithDescription("Texts passed through the content filter"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		detectLatency, metricsInitErr = meter.Float64Histogram(
			"privacy.validation_duration_ms",
			metric.WithDescription("Observed end to end validation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
