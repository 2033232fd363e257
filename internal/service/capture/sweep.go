package capture

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 100
)

var (
	captureSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oms_capture_sweep_runs_total",
		Help: "Total number of order capture sweeps grouped by result.",
	}, []string{"result"})
	captureSweepOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oms_capture_sweep_orders_total",
		Help: "Total number of orders processed by the capture sweep grouped by result.",
	}, []string{"result"})
)

// SweepOptions задаёт параметры воркера.
type SweepOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweepOption настраивает SweepWorker.
type SweepOption func(*SweepOptions)

// WithSweepLogger задаёт логгер воркера.
func WithSweepLogger(logger *log.Entry) SweepOption {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между проходами.
func WithSweepInterval(interval time.Duration) SweepOption {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// WithSweepBatchSize задаёт число заказов за проход.
func WithSweepBatchSize(batchSize int) SweepOption {
	return func(opts *SweepOptions) {
		opts.BatchSize = batchSize
	}
}

// SweepWorker периодически списывает оплату за завершённые заказы с balance_due,
// у которых все единицы отгружены или отменены.
type SweepWorker struct {
	orders    domain.OrderRepository
	capturer  *OrderCapturing
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweepWorker создаёт воркер.
func NewSweepWorker(orders domain.OrderRepository, capturer *OrderCapturing, options ...SweepOption) *SweepWorker {
	opts := SweepOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "capture-sweep-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &SweepWorker{
		orders:    orders,
		capturer:  capturer,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run выполняет проходы до отмены ctx.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.orders == nil || w.capturer == nil {
		w.logger.Warn("capture sweep worker is disabled: dependencies are nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	captured, err := w.SweepOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		captureSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("capture sweep failed")
		return
	}
	captureSweepRunsTotal.WithLabelValues("ok").Inc()
	if captured > 0 {
		w.logger.WithField("captured", captured).Info("capture sweep completed")
	}
}

// SweepOnce обрабатывает один батч. Ошибка отдельного заказа не прерывает проход.
// Возвращает число заказов, по которым что-то списано.
func (w *SweepWorker) SweepOnce(ctx context.Context) (int, error) {
	orders, err := w.orders.ListCapturable(w.batchSize)
	if err != nil {
		return 0, err
	}

	captured := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return captured, err
		}
		if !Capturable(order) {
			captureSweepOrdersTotal.WithLabelValues("skipped").Inc()
			continue
		}

		amount, err := w.capturer.CapturePayments(ctx, order.ID)
		if err != nil {
			captureSweepOrdersTotal.WithLabelValues("error").Inc()
			w.logger.WithError(err).WithField("order_id", order.ID).Warn("order capture in sweep failed")
			continue
		}
		if amount.IsPositive() {
			captured++
			captureSweepOrdersTotal.WithLabelValues("captured").Inc()
		}
	}
	return captured, nil
}

// Capturable: завершённый заказ с balance_due, все единицы которого отгружены или отменены.
func Capturable(order domain.Order) bool {
	return order.State == domain.OrderStateComplete &&
		order.PaymentState == domain.PaymentStateBalanceDue &&
		len(order.InventoryUnits) > 0 &&
		order.AllUnitsShippedOrCanceled()
}
