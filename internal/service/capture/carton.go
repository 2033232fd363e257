package capture

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// CartonCapturing фиксирует доли отгруженных единиц коробки и списывает за них оплату.
type CartonCapturing struct {
	cartons  domain.CartonRepository
	orders   domain.OrderRepository
	captures domain.CaptureRepository
	mutex    domain.OrderMutex
	updater  Recalculator
	strategy PaymentStrategy
	s        settings
}

// NewCartonCapturing создаёт сервис захвата коробок.
func NewCartonCapturing(
	cartons domain.CartonRepository,
	orders domain.OrderRepository,
	captures domain.CaptureRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	strategy PaymentStrategy,
	opts ...Option,
) *CartonCapturing {
	return &CartonCapturing{
		cartons:  cartons,
		orders:   orders,
		captures: captures,
		mutex:    mutex,
		updater:  updater,
		strategy: strategy,
		s:        buildSettings("carton_capturing", opts),
	}
}

// Capture строит захваты единиц коробки по заказам, проверяет, что захват
// заказа не превышает его total, списывает оплату через стратегию и атомарно
// сохраняет CartonCapture вместе с заказами. При ErrCaptureTooLarge или ошибке
// шлюза ничего не сохраняется.
func (c *CartonCapturing) Capture(ctx context.Context, cartonID string) (domain.CartonCapture, error) {
	carton, err := c.cartons.Get(cartonID)
	if err != nil {
		return domain.CartonCapture{}, err
	}
	orderIDs, unitsByOrder := carton.UnitsByOrder()
	if len(orderIDs) == 0 {
		return domain.CartonCapture{}, fmt.Errorf("carton %s: %w", cartonID, domain.ErrNoUnitsToShip)
	}

	var result domain.CartonCapture
	err = withLocks(ctx, c.mutex, orderIDs, func(ctx context.Context) error {
		now := c.s.now()
		capture := domain.CartonCapture{ID: c.s.newID(), CartonID: carton.ID, CapturedAt: now}

		loaded := make(map[string]*domain.Order, len(orderIDs))
		ordered := make([]*domain.Order, 0, len(orderIDs))
		for _, orderID := range orderIDs {
			stored, err := c.orders.Get(orderID)
			if err != nil {
				return err
			}
			order := stored.Clone()
			if err := c.buildOrderCaptures(&capture, &order, unitsByOrder[orderID]); err != nil {
				return err
			}
			loaded[orderID] = &order
			ordered = append(ordered, &order)
		}

		if err := c.strategy.CapturePayments(ctx, capture, loaded); err != nil {
			return err
		}

		var events []domain.TimelineEvent
		persisted := make([]domain.Order, 0, len(ordered))
		for _, order := range ordered {
			orderEvents, err := c.updater.Recalculate(ctx, order)
			if err != nil {
				return err
			}
			events = append(events, orderEvents...)
			events = append(events, domain.TimelineEvent{
				OrderID:  order.ID,
				Type:     domain.TimelineCapture,
				Reason:   "carton " + carton.ID + " captured",
				Next:     capture.TotalForOrder(order.ID).StringFixed(2),
				Occurred: now,
			})
			persisted = append(persisted, *order)
		}

		if err := c.captures.Create(capture, persisted); err != nil {
			return fmt.Errorf("persist carton capture %s: %w", capture.ID, err)
		}
		c.updater.RecordEvents(events)

		if _, err := c.s.events.Emit(domain.CartonCapturedEvent{
			CartonID:        carton.ID,
			OrderID:         carton.OrderID,
			CartonCaptureID: capture.ID,
			OrderIDs:        orderIDs,
			Total:           capture.Total().StringFixed(2),
		}); err != nil {
			c.s.logger.WithError(err).WithField("carton_id", carton.ID).Warn("carton captured event not enqueued")
		}

		result = capture
		return nil
	})
	if err != nil {
		c.s.logger.WithError(err).WithField("carton_id", cartonID).Warn("carton capture failed")
		return domain.CartonCapture{}, err
	}

	c.s.metrics.RecordCartonCapture()
	c.s.logger.WithFields(log.Fields{
		"carton_id":  cartonID,
		"capture_id": result.ID,
		"units":      len(result.Captures),
		"total":      result.Total().StringFixed(2),
	}).Info("carton captured")
	return result, nil
}

// buildOrderCaptures добавляет захваты единиц в capture и в заказ. Захват
// дописывается в заказ сразу, поэтому следующая единица той же позиции
// делит уже уменьшенный остаток.
func (c *CartonCapturing) buildOrderCaptures(capture *domain.CartonCapture, order *domain.Order, unitIDs []string) error {
	for _, unitID := range unitIDs {
		amounts, currency, err := c.s.calculator.UnitAmounts(order, unitID)
		if err != nil {
			return err
		}
		unitCapture := domain.InventoryUnitCapture{
			ID:              c.s.newID(),
			CartonCaptureID: capture.ID,
			InventoryUnitID: unitID,
			OrderID:         order.ID,
			Currency:        currency,
			UnitAmounts:     amounts,
			CreatedAt:       capture.CapturedAt,
		}
		order.UnitCaptures = append(order.UnitCaptures, unitCapture)
		capture.Captures = append(capture.Captures, unitCapture)
	}

	total := capture.TotalForOrder(order.ID)
	if total.GreaterThan(order.Total) {
		c.s.metrics.RecordCaptureRejected("too_large")
		return fmt.Errorf("order %s capture %s > total %s: %w",
			order.ID, total.StringFixed(2), order.Total.StringFixed(2), domain.ErrCaptureTooLarge)
	}
	return nil
}
