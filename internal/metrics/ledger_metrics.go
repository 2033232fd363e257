package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics содержит метрики пересчёта заказов, отмен и захватов.
// Методы безопасны для nil-получателя: компоненты без метрик просто не пишут их.
type LedgerMetrics struct {
	// Конвейер пересчёта
	pipelineRuns     prometheus.Counter
	pipelineDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Изменения после checkout
	unitsShortShipped prometheus.Counter
	cartonsShipped    prometheus.Counter

	// Захваты
	cartonCaptures   prometheus.Counter
	capturedAmount   *prometheus.CounterVec
	captureShortfall *prometheus.CounterVec
	captureRejected  *prometheus.CounterVec

	// Блокировки и промо
	lockFailures        prometheus.Counter
	promotionsActivated prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Доставка outbox
	outboxDeliveries *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	outboxOldestAge  prometheus.Gauge

	// Gauge для операций под блокировкой заказа
	lockedOperations prometheus.Gauge
}

// NewLedgerMetrics создаёт метрики в DefaultRegisterer.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer позволяет тестам использовать отдельный реестр.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		pipelineRuns: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_order_pipeline_runs_total",
			Help: "Total number of order totals pipeline runs",
		}),
		pipelineDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_pipeline_duration_seconds",
			Help:    "Duration of order totals pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_pipeline_step_duration_seconds",
			Help:    "Duration of individual pipeline steps in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"step"}),
		unitsShortShipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_units_short_shipped_total",
			Help: "Total number of inventory units canceled by short ship",
		}),
		cartonsShipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_cartons_shipped_total",
			Help: "Total number of cartons created",
		}),
		cartonCaptures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_carton_captures_total",
			Help: "Total number of persisted carton captures",
		}),
		capturedAmount: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_captured_amount_minor_total",
			Help: "Captured money in minor currency units",
		}, []string{"currency"}),
		captureShortfall: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_capture_shortfall_minor_total",
			Help: "Money left uncaptured because pending payments ran out, in minor units",
		}, []string{"currency"}),
		captureRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_capture_rejected_total",
			Help: "Total number of rejected capture attempts by reason",
		}, []string{"reason"}),
		lockFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_order_lock_failures_total",
			Help: "Total number of failed order lock acquisitions",
		}),
		promotionsActivated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_promotions_activated_total",
			Help: "Total number of successful promotion activations",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		outboxDeliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_deliveries_total",
			Help: "Outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		}),
		lockedOperations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_locked_operations",
			Help: "Number of operations currently holding an order lock",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordPipelineRun фиксирует прогон конвейера и его длительность.
func (m *LedgerMetrics) RecordPipelineRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.Inc()
	m.pipelineDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага конвейера.
func (m *LedgerMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordShortShip увеличивает счётчик отменённых единиц.
func (m *LedgerMetrics) RecordShortShip(units int) {
	if m == nil {
		return
	}
	m.unitsShortShipped.Add(float64(units))
}

// RecordCartonShipped увеличивает счётчик созданных коробок.
func (m *LedgerMetrics) RecordCartonShipped() {
	if m == nil {
		return
	}
	m.cartonsShipped.Inc()
}

// RecordCartonCapture увеличивает счётчик сохранённых захватов.
func (m *LedgerMetrics) RecordCartonCapture() {
	if m == nil {
		return
	}
	m.cartonCaptures.Inc()
}

// RecordCaptured добавляет списанную сумму в минимальных единицах.
func (m *LedgerMetrics) RecordCaptured(currency string, amountMinor int64) {
	if m == nil {
		return
	}
	m.capturedAmount.WithLabelValues(currency).Add(float64(amountMinor))
}

// RecordCaptureShortfall добавляет сумму, оставшуюся без захвата.
func (m *LedgerMetrics) RecordCaptureShortfall(currency string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.captureShortfall.WithLabelValues(currency).Add(amount.Shift(2).InexactFloat64())
}

// RecordCaptureRejected увеличивает счётчик отказов по причине.
func (m *LedgerMetrics) RecordCaptureRejected(reason string) {
	if m == nil {
		return
	}
	m.captureRejected.WithLabelValues(reason).Inc()
}

// RecordLockFailed увеличивает счётчик неудачных захватов блокировки.
func (m *LedgerMetrics) RecordLockFailed() {
	if m == nil {
		return
	}
	m.lockFailures.Inc()
}

// RecordPromotionActivated увеличивает счётчик применённых промо.
func (m *LedgerMetrics) RecordPromotionActivated() {
	if m == nil {
		return
	}
	m.promotionsActivated.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *LedgerMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LedgerMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxDelivery учитывает попытку публикации: sent, retry, failed, dlq_failed.
func (m *LedgerMetrics) RecordOutboxDelivery(eventType, result string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(eventType, result).Inc()
}

// SetOutboxBacklog выставляет размер очереди и возраст самой старой записи.
func (m *LedgerMetrics) SetOutboxBacklog(pending int, oldest time.Duration) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(max(oldest, 0).Seconds())
}

// LockAcquired увеличивает число операций под блокировкой.
func (m *LedgerMetrics) LockAcquired() {
	if m == nil {
		return
	}
	m.lockedOperations.Inc()
}

// LockReleased уменьшает число операций под блокировкой.
func (m *LedgerMetrics) LockReleased() {
	if m == nil {
		return
	}
	m.lockedOperations.Dec()
}
