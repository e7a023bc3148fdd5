package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, ctx context.Context, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func installManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	reader := installManualReader(t)

	RecordValidation(ctx, ValidationMetrics{
		Level:          "strict",
		Passed:         false,
		PIICount:       3,
		ViolationCount: 2,
		Duration:       40 * time.Millisecond,
	})

	metrics := collectMetrics(t, ctx, reader)

	sumValidations, ok := metrics["privacy.validations_total"]
	if !ok {
		t.Fatalf("missing privacy.validations_total metric")
	}
	validationData, ok := sumValidations.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for validations metric")
	}
	if len(validationData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(validationData.DataPoints))
	}
	if validationData.DataPoints[0].Value != 1 {
		t.Fatalf("expected validations count 1, got %d", validationData.DataPoints[0].Value)
	}
	if value, ok := validationData.DataPoints[0].Attributes.Value(attribute.Key("privacy.level")); !ok || value.AsString() != "strict" {
		t.Fatalf("expected privacy.level attribute to be strict, got %v", value)
	}

	sumFailures, ok := metrics["privacy.validation_failures_total"]
	if !ok {
		t.Fatalf("missing privacy.validation_failures_total metric")
	}
	failureData := sumFailures.Data.(metricdata.Sum[int64])
	if failureData.DataPoints[0].Value != 1 {
		t.Fatalf("expected failure count 1, got %d", failureData.DataPoints[0].Value)
	}

	sumEntities, ok := metrics["privacy.pii_entities_total"]
	if !ok {
		t.Fatalf("missing privacy.pii_entities_total metric")
	}
	entityData := sumEntities.Data.(metricdata.Sum[int64])
	if entityData.DataPoints[0].Value != 3 {
		t.Fatalf("expected entity count 3, got %d", entityData.DataPoints[0].Value)
	}

	sumViolations, ok := metrics["privacy.content_violations_total"]
	if !ok {
		t.Fatalf("missing privacy.content_violations_total metric")
	}
	violationData := sumViolations.Data.(metricdata.Sum[int64])
	if violationData.DataPoints[0].Value != 2 {
		t.Fatalf("expected violation count 2, got %d", violationData.DataPoints[0].Value)
	}

	hist, ok := metrics["privacy.validation_duration_ms"]
	if !ok {
		t.Fatalf("missing privacy.validation_duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 40 {
		t.Fatalf("expected histogram sum 40, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordValidationPassedSkipsFailureCounter(t *testing.T) {
	ctx := context.Background()
	reader := installManualReader(t)

	RecordValidation(ctx, ValidationMetrics{Level: "low", Passed: true})

	metrics := collectMetrics(t, ctx, reader)

	if failures, ok := metrics["privacy.validation_failures_total"]; ok {
		failureData := failures.Data.(metricdata.Sum[int64])
		if len(failureData.DataPoints) != 0 {
			t.Fatalf("expected no failure datapoints for a passing validation")
		}
	}
}

func TestRecordAnonymizationAndFilter(t *testing.T) {
	ctx := context.Background()
	reader := installManualReader(t)

	RecordAnonymization(ctx, "mask", "pattern", 2)
	RecordFilter(ctx, "redact", false)

	metrics := collectMetrics(t, ctx, reader)

	sumAnon, ok := metrics["privacy.anonymizations_total"]
	if !ok {
		t.Fatalf("missing privacy.anonymizations_total metric")
	}
	anonData := sumAnon.Data.(metricdata.Sum[int64])
	if anonData.DataPoints[0].Value != 1 {
		t.Fatalf("expected anonymization count 1, got %d", anonData.DataPoints[0].Value)
	}
	if value, ok := anonData.DataPoints[0].Attributes.Value(attribute.Key("anonymize.method")); !ok || value.AsString() != "mask" {
		t.Fatalf("expected anonymize.method attribute to be mask, got %v", value)
	}

	sumFilter, ok := metrics["privacy.filter_applied_total"]
	if !ok {
		t.Fatalf("missing privacy.filter_applied_total metric")
	}
	filterData := sumFilter.Data.(metricdata.Sum[int64])
	if filterData.DataPoints[0].Value != 1 {
		t.Fatalf("expected filter count 1, got %d", filterData.DataPoints[0].Value)
	}
	if value, ok := filterData.DataPoints[0].Attributes.Value(attribute.Key("filter.action")); !ok || value.AsString() != "redact" {
		t.Fatalf("expected filter.action attribute to be redact, got %v", value)
	}
}
