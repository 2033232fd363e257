// Package amendment изменяет уже завершённые заказы: отменяет единицы,
// которые не удалось отгрузить, с компенсирующей корректировкой.
package amendment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/ledger"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

// CancellationLabel: префикс метки корректировки отмены.
const CancellationLabel = "Cancellation"

// Recalculator пересчитывает заказ в памяти и пишет события timeline после сохранения.
type Recalculator interface {
	Recalculate(ctx context.Context, order *domain.Order) ([]domain.TimelineEvent, error)
	RecordEvents(events []domain.TimelineEvent)
}

// Cancellations: операции отмены единиц завершённого заказа.
type Cancellations struct {
	orders  domain.OrderRepository
	mutex   domain.OrderMutex
	updater Recalculator
	units   *domain.InventoryUnitMachine
	events  *outbox.Emitter
	metrics *metrics.LedgerMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// Option настраивает Cancellations.
type Option func(*Cancellations)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Cancellations) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(c *Cancellations) {
		c.metrics = m
	}
}

// WithEmitter включает публикацию order.short_shipped через outbox.
func WithEmitter(e *outbox.Emitter) Option {
	return func(c *Cancellations) {
		c.events = e
	}
}

// WithNow подменяет часы.
func WithNow(now func() time.Time) Option {
	return func(c *Cancellations) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(fn func() string) Option {
	return func(c *Cancellations) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewCancellations создаёт сервис отмен.
func NewCancellations(
	orders domain.OrderRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	cfg domain.StoreConfig,
	opts ...Option,
) *Cancellations {
	c := &Cancellations{
		orders:  orders,
		mutex:   mutex,
		updater: updater,
		units:   domain.NewInventoryUnitMachine(cfg),
		logger:  log.WithField("component", "order_cancellations"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShortShip отменяет единицы заказа, которые не будут отгружены. Для каждой
// единицы в порядке передачи фиксирует UnitCancel с необработанными долями,
// добавляет закрытую отрицательную корректировку к позиции и переводит единицу
// в canceled. Затем заказ пересчитывается и сохраняется один раз.
// Любая ошибка оставляет сохранённый заказ без изменений.
func (c *Cancellations) ShortShip(ctx context.Context, orderID string, unitIDs []string, whodunnit string) ([]domain.UnitCancel, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	var cancels []domain.UnitCancel
	err := c.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := c.orders.Get(orderID)
		if err != nil {
			return err
		}
		for _, id := range unitIDs {
			if _, ok := stored.InventoryUnit(id); !ok {
				return fmt.Errorf("unit %s: %w", id, domain.ErrUnitsFromOtherOrder)
			}
		}

		order := stored.Clone()
		now := c.now()
		for _, id := range unitIDs {
			cancel, err := c.shortShipUnit(ctx, &order, id, whodunnit, now)
			if err != nil {
				return err
			}
			cancels = append(cancels, cancel)
		}

		events, err := c.updater.Recalculate(ctx, &order)
		if err != nil {
			return err
		}
		if err := c.orders.Save(order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}

		events = append(events, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineShortShip,
			Reason:   fmt.Sprintf("%d unit(s) short shipped", len(cancels)),
			Next:     order.Total.StringFixed(2),
			Occurred: now,
		})
		c.updater.RecordEvents(events)

		if _, err := c.events.Emit(domain.OrderShortShippedEvent{
			OrderID:   order.ID,
			UnitIDs:   unitIDs,
			CreatedBy: whodunnit,
			Total:     order.Total.StringFixed(2),
		}); err != nil {
			// заказ уже сохранён, ошибка только логируется
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("short ship event not enqueued")
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"units":    len(unitIDs),
		}).Warn("short ship failed")
		return nil, err
	}

	c.metrics.RecordShortShip(len(cancels))
	c.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"units":     len(cancels),
		"whodunnit": whodunnit,
	}).Info("units short shipped")
	return cancels, nil
}

func (c *Cancellations) shortShipUnit(ctx context.Context, order *domain.Order, unitID, whodunnit string, now time.Time) (domain.UnitCancel, error) {
	calc, err := ledger.NewCalculator(order, unitID)
	if err != nil {
		return domain.UnitCancel{}, err
	}
	unit, _ := order.InventoryUnit(unitID)

	cancel := domain.UnitCancel{
		ID:              c.newID(),
		InventoryUnitID: unitID,
		UnitAmounts:     calc.Amounts(),
		Reason:          domain.UnitCancelShortShip,
		CreatedBy:       whodunnit,
		CreatedAt:       now,
	}
	order.UnitCancels = append(order.UnitCancels, cancel)
	order.Adjustments = append(order.Adjustments, domain.Adjustment{
		ID:         c.newID(),
		Adjustable: domain.LineItemRef(unit.LineItemID),
		Source:     domain.AdjustmentSource{Kind: domain.SourceUnitCancel, ID: cancel.ID},
		Amount:     cancel.Total().Neg(),
		Label:      CancellationLabel + " - " + cancel.Reason,
		Eligible:   true,
		Finalized:  true,
		CreatedAt:  now,
	})

	if _, err := c.units.Fire(ctx, unit, domain.UnitEventCancel); err != nil {
		return domain.UnitCancel{}, err
	}
	unit.UpdatedAt = now
	return cancel, nil
}
