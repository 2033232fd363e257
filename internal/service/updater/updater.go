package updater

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

// OrderUpdater: точка входа пересчёта заказа после изменения его дочерних сущностей.
type OrderUpdater struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	deps     Dependencies
	full     *Pipeline
	inMemory *Pipeline
	metrics  *metrics.LedgerMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает OrderUpdater.
type Option func(*OrderUpdater)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(u *OrderUpdater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics включает метрики конвейера.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(u *OrderUpdater) {
		u.metrics = m
	}
}

// WithNow подменяет часы (используется в тестах).
func WithNow(now func() time.Time) Option {
	return func(u *OrderUpdater) {
		if now != nil {
			u.now = now
		}
	}
}

// NewOrderUpdater собирает оба конвейера: полный с сохранением итогов и in-memory.
// Если deps.Totals не задан, итоги пишутся через репозиторий заказов.
func NewOrderUpdater(orders domain.OrderRepository, timeline domain.TimelineRepository, deps Dependencies, opts ...Option) *OrderUpdater {
	u := &OrderUpdater{
		orders:   orders,
		timeline: timeline,
		logger:   log.WithField("component", "order_updater"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(u)
	}
	if deps.Totals == nil {
		deps.Totals = orders
	}
	u.deps = deps

	pipelineOpts := []PipelineOption{WithPipelineMetrics(u.metrics), WithClock(u.now)}
	u.full = Default(deps, pipelineOpts...)
	u.inMemory = Recalculate(deps, pipelineOpts...)
	return u
}

// Update загружает заказ, прогоняет канонический конвейер и записывает итоги.
func (u *OrderUpdater) Update(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := u.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	run, err := u.full.Run(ctx, &order)
	if err != nil {
		u.logger.WithError(err).WithField("order_id", orderID).Error("order update failed")
		return domain.Order{}, fmt.Errorf("update order %s: %w", orderID, err)
	}
	u.RecordEvents(run.Events())
	return order, nil
}

// Recalculate пересчитывает заказ в памяти без записи. Возвращает события
// timeline, которые вызывающий записывает после сохранения агрегата.
func (u *OrderUpdater) Recalculate(ctx context.Context, order *domain.Order) ([]domain.TimelineEvent, error) {
	run, err := u.inMemory.Run(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("recalculate order %s: %w", order.ID, err)
	}
	return run.Events(), nil
}

// RecordEvents дописывает события в timeline одной пачкой; ошибка только
// логируется.
func (u *OrderUpdater) RecordEvents(events []domain.TimelineEvent) {
	if u.timeline == nil || len(events) == 0 {
		return
	}
	if err := u.timeline.Append(events...); err != nil {
		u.logger.WithError(err).WithFields(log.Fields{
			"order_id": events[0].OrderID,
			"events":   len(events),
		}).Warn("failed to append timeline events")
		return
	}
	for range events {
		u.metrics.RecordTimelineEvent()
	}
}

// UpdateTotals пересчитывает только денежные итоги.
func (u *OrderUpdater) UpdateTotals(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, UpdateOrderTotals{})
}

// UpdatePaymentState пересчитывает только payment_state.
func (u *OrderUpdater) UpdatePaymentState(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, UpdateOrderPaymentState{})
}

// UpdateShipmentState пересчитывает только shipment_state.
func (u *OrderUpdater) UpdateShipmentState(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, UpdateOrderShipmentState{})
}

// UpdateShipments продвигает состояния отгрузок.
func (u *OrderUpdater) UpdateShipments(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, AdvanceShipments{})
}

// RecalculateAdjustments пересчитывает корректировки и итоги объектов.
func (u *OrderUpdater) RecalculateAdjustments(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, CalculateAdjustments{Promotions: u.deps.Promotions, TaxRates: u.deps.TaxRates})
}

// PersistTotals записывает вычисленные колонки заказа.
func (u *OrderUpdater) PersistTotals(ctx context.Context, order *domain.Order) error {
	return u.single(ctx, order, PersistOrderTotals{Writer: u.deps.Totals})
}

func (u *OrderUpdater) single(ctx context.Context, order *domain.Order, step Step) error {
	run := &Run{Order: order, Now: u.now()}
	if err := step.Apply(ctx, run); err != nil {
		return fmt.Errorf("%s: %w", step.Name(), err)
	}
	u.RecordEvents(run.Events())
	return nil
}
