package capture

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// OrderCapturing списывает оплату за заказ целиком, без разбивки по коробкам.
type OrderCapturing struct {
	orders  domain.OrderRepository
	mutex   domain.OrderMutex
	updater Recalculator
	greedy  greedyCapture
	s       settings
}

// NewOrderCapturing создаёт сервис.
func NewOrderCapturing(
	orders domain.OrderRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	gateway domain.PaymentGateway,
	cfg domain.StoreConfig,
	opts ...Option,
) *OrderCapturing {
	s := buildSettings("order_capturing", opts)
	return &OrderCapturing{
		orders:  orders,
		mutex:   mutex,
		updater: updater,
		greedy:  greedyCapture{gateway: gateway, cfg: cfg, now: s.now, newID: s.newID, logger: s.logger},
		s:       s,
	}
}

// CapturePayments для неоплаченного заказа списывает непокрытую часть total
// с pending-платежей в порядке приоритета, беря с платежа не больше его amount.
// Когда платежи заканчиваются, цикл просто останавливается.
// Возвращает списанную сумму.
func (c *OrderCapturing) CapturePayments(ctx context.Context, orderID string) (decimal.Decimal, error) {
	captured := decimal.Zero
	err := c.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := c.orders.Get(orderID)
		if err != nil {
			return err
		}
		if stored.Paid() {
			return nil
		}

		order := stored.Clone()
		outstanding := order.Total.Sub(order.CompletedPaymentTotal())
		captured, err = c.greedy.run(ctx, &order, outstanding, func(payment domain.Payment) decimal.Decimal {
			return payment.Amount
		})
		if err != nil {
			return err
		}
		if captured.IsZero() {
			return nil
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
			Type:     domain.TimelineCapture,
			Reason:   "order payments captured",
			Next:     captured.StringFixed(2),
			Occurred: c.s.now(),
		})
		c.updater.RecordEvents(events)
		c.s.metrics.RecordCaptured(order.Currency, domain.ToMinor(captured))
		return nil
	})
	if err != nil {
		c.s.logger.WithError(err).WithField("order_id", orderID).Warn("order capture failed")
		return decimal.Zero, err
	}
	if captured.IsPositive() {
		c.s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"captured": captured.StringFixed(2),
		}).Info("order payments captured")
	}
	return captured, nil
}
