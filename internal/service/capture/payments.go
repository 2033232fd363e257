package capture

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// PaymentStrategy списывает оплату по захвату коробки. Заказы уже заблокированы
// вызывающим и изменяются на месте; сохраняет их CartonCapturing.
type PaymentStrategy interface {
	CapturePayments(ctx context.Context, capture domain.CartonCapture, orders map[string]*domain.Order) error
}

// sortedPendingIDs: pending-платежи по приоритету метода, затем в порядке добавления.
func sortedPendingIDs(order *domain.Order, cfg domain.StoreConfig) []string {
	pending := order.PendingPayments()
	sort.SliceStable(pending, func(i, j int) bool {
		return cfg.PaymentPriority(pending[i].MethodType) < cfg.PaymentPriority(pending[j].MethodType)
	})
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	return ids
}

type greedyCapture struct {
	gateway domain.PaymentGateway
	cfg     domain.StoreConfig
	now     func() time.Time
	newID   func() string
	logger  *log.Entry
}

// run списывает amount с pending-платежей заказа. limit задаёт, сколько можно
// взять с одного платежа. Возвращает списанную сумму; остаток без платежей
// не считается ошибкой.
func (g greedyCapture) run(ctx context.Context, order *domain.Order, amount decimal.Decimal, limit func(domain.Payment) decimal.Decimal) (decimal.Decimal, error) {
	captured := decimal.Zero
	remaining := amount

	for _, id := range sortedPendingIDs(order, g.cfg) {
		if !remaining.IsPositive() {
			break
		}
		payment, ok := order.Payment(id)
		if !ok {
			continue
		}
		// списывается и учитывается одна и та же сумма в целых центах
		minor := domain.ToMinor(decimal.Min(remaining, limit(*payment)))
		if minor <= 0 {
			continue
		}
		value := domain.FromMinor(minor)

		if err := g.gateway.Capture(ctx, *payment, minor, order.Currency); err != nil {
			g.logger.WithError(err).WithFields(log.Fields{
				"order_id":     order.ID,
				"payment_id":   id,
				"amount_minor": minor,
			}).Error("payment capture failed")
			return captured, fmt.Errorf("capture payment %s: %w", id, err)
		}

		order.ApplyCapture(id, value, g.newID(), g.now())
		captured = captured.Add(value)
		remaining = remaining.Sub(value)
	}
	return captured, nil
}

// CartonPaymentStrategy списывает сумму захвата каждого заказа с его
// pending-платежей в порядке приоритета методов.
type CartonPaymentStrategy struct {
	greedy greedyCapture
	s      settings
}

var _ PaymentStrategy = (*CartonPaymentStrategy)(nil)

// NewCartonPaymentStrategy создаёт стратегию.
func NewCartonPaymentStrategy(gateway domain.PaymentGateway, cfg domain.StoreConfig, opts ...Option) *CartonPaymentStrategy {
	s := buildSettings("carton_payment_strategy", opts)
	return &CartonPaymentStrategy{
		greedy: greedyCapture{gateway: gateway, cfg: cfg, now: s.now, newID: s.newID, logger: s.logger},
		s:      s,
	}
}

// CapturePayments списывает min(остаток, uncaptured_amount платежа), пока остаток
// положителен. Если платежи закончились раньше, недостача логируется, учитывается
// в метрике и уходит в outbox; захват при этом не отменяется.
func (p *CartonPaymentStrategy) CapturePayments(ctx context.Context, capture domain.CartonCapture, orders map[string]*domain.Order) error {
	for _, orderID := range capture.OrderIDs() {
		order, ok := orders[orderID]
		if !ok {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
		}

		amount := capture.TotalForOrder(orderID)
		captured, err := p.greedy.run(ctx, order, amount, func(payment domain.Payment) decimal.Decimal {
			return payment.UncapturedAmount()
		})
		if err != nil {
			return err
		}
		p.s.metrics.RecordCaptured(order.Currency, domain.ToMinor(captured))

		if shortfall := amount.Sub(captured); shortfall.IsPositive() {
			p.reportShortfall(capture, order, shortfall)
		}
	}
	return nil
}

func (p *CartonPaymentStrategy) reportShortfall(capture domain.CartonCapture, order *domain.Order, shortfall decimal.Decimal) {
	p.s.metrics.RecordCaptureShortfall(order.Currency, shortfall)
	p.s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"carton_id": capture.CartonID,
		"shortfall": shortfall.StringFixed(2),
		"currency":  order.Currency,
	}).Warn("pending payments exhausted before carton capture was covered")

	if _, err := p.s.events.Emit(domain.PaymentCaptureShortfallEvent{
		OrderID:         order.ID,
		CartonID:        capture.CartonID,
		CartonCaptureID: capture.ID,
		Shortfall:       shortfall.StringFixed(2),
		Currency:        order.Currency,
	}); err != nil {
		p.s.logger.WithError(err).WithField("order_id", order.ID).Warn("shortfall event not enqueued")
	}
}
