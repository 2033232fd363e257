package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewLedgerMetrics(t *testing.T) {
	m := NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())

	if m.pipelineRuns == nil || m.pipelineDuration == nil || m.stepDuration == nil {
		t.Fatal("pipeline metrics should not be nil")
	}
	if m.capturedAmount == nil || m.captureShortfall == nil || m.captureRejected == nil {
		t.Fatal("capture metrics should not be nil")
	}
	if m.lockFailures == nil || m.lockedOperations == nil {
		t.Fatal("lock metrics should not be nil")
	}
}

func TestNewLedgerMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewLedgerMetricsWithRegisterer(reg)
	second := NewLedgerMetricsWithRegisterer(reg)

	first.RecordShortShip(2)
	second.RecordShortShip(1)

	if got := counterValue(t, first.unitsShortShipped); got != 3 {
		t.Fatalf("expected shared counter value 3, got %f", got)
	}
}

func TestRecordPipelineRun(t *testing.T) {
	m := NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPipelineRun(10 * time.Millisecond)
	m.RecordPipelineRun(20 * time.Millisecond)
	m.RecordStepDuration("update_order_totals", time.Millisecond)

	if got := counterValue(t, m.pipelineRuns); got != 2 {
		t.Fatalf("expected 2 pipeline runs, got %f", got)
	}

	metric := &dto.Metric{}
	if err := m.pipelineDuration.Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Fatalf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}

	stepMetric := &dto.Metric{}
	if err := m.stepDuration.WithLabelValues("update_order_totals").(prometheus.Histogram).Write(stepMetric); err != nil {
		t.Fatalf("failed to write step metric: %v", err)
	}
	if stepMetric.Histogram.GetSampleCount() != 1 {
		t.Fatalf("expected 1 step sample, got %d", stepMetric.Histogram.GetSampleCount())
	}
}

func TestRecordCaptureMetrics(t *testing.T) {
	m := NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCaptured("USD", 1050)
	m.RecordCaptureShortfall("USD", decimal.RequireFromString("2.35"))
	m.RecordCaptureRejected("too_large")

	if got := counterValue(t, m.capturedAmount.WithLabelValues("USD")); got != 1050 {
		t.Fatalf("expected captured 1050, got %f", got)
	}
	if got := counterValue(t, m.captureShortfall.WithLabelValues("USD")); got != 235 {
		t.Fatalf("expected shortfall 235, got %f", got)
	}
	if got := counterValue(t, m.captureRejected.WithLabelValues("too_large")); got != 1 {
		t.Fatalf("expected 1 rejection, got %f", got)
	}
}

func TestLockGauge(t *testing.T) {
	m := NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())

	m.LockAcquired()
	m.LockAcquired()
	m.LockReleased()
	m.RecordLockFailed()

	metric := &dto.Metric{}
	if err := m.lockedOperations.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Fatalf("expected 1 locked operation, got %f", metric.Gauge.GetValue())
	}
	if got := counterValue(t, m.lockFailures); got != 1 {
		t.Fatalf("expected 1 lock failure, got %f", got)
	}
}

func TestOutboxBacklog(t *testing.T) {
	m := NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetOutboxBacklog(4, 90*time.Second)
	m.RecordOutboxDelivery("carton.shipped", "sent")
	m.RecordOutboxDelivery("carton.shipped", "sent")

	pending := &dto.Metric{}
	if err := m.outboxPending.Write(pending); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if pending.Gauge.GetValue() != 4 {
		t.Fatalf("expected 4 pending records, got %f", pending.Gauge.GetValue())
	}
	if got := counterValue(t, m.outboxDeliveries.WithLabelValues("carton.shipped", "sent")); got != 2 {
		t.Fatalf("expected 2 deliveries, got %f", got)
	}

	m.SetOutboxBacklog(0, -time.Second)
	age := &dto.Metric{}
	if err := m.outboxOldestAge.Write(age); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if age.Gauge.GetValue() != 0 {
		t.Fatalf("negative age must clamp to zero, got %f", age.Gauge.GetValue())
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *LedgerMetrics

	m.RecordPipelineRun(time.Second)
	m.RecordStepDuration("step", time.Second)
	m.RecordShortShip(1)
	m.RecordCartonShipped()
	m.RecordCartonCapture()
	m.RecordCaptured("USD", 1)
	m.RecordCaptureShortfall("USD", decimal.NewFromInt(1))
	m.RecordCaptureRejected("x")
	m.RecordLockFailed()
	m.RecordPromotionActivated()
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordOutboxDelivery("carton.shipped", "sent")
	m.SetOutboxBacklog(3, time.Minute)
	m.LockAcquired()
	m.LockReleased()
}
