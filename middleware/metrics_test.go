package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/backlog/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_Duration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "backlog.job.duration")
	if metric == nil {
		t.Fatal("backlog.job.duration not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one observation, got %+v", hist.DataPoints)
	}
}

func TestMetrics_AttemptsByStatus(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { return nil })
	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { return errors.New("x") })
	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { return errors.New("y") })

	metric := findMetric(collectMetrics(t, reader), "backlog.job.attempts")
	if metric == nil {
		t.Fatal("backlog.job.attempts not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}

	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] += dp.Value

		queue, _ := dp.Attributes.Value(attribute.Key("queue"))
		if queue.AsString() != "default" {
			t.Errorf("queue attribute = %q", queue.AsString())
		}
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 2 {
		t.Errorf("attempts by status = %v, want ok=1 error=2", byStatus)
	}
}
