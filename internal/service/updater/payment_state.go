package updater

import (
	"context"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// UpdateOrderPaymentState выводит payment_state по таблице решений.
type UpdateOrderPaymentState struct{}

func (UpdateOrderPaymentState) Name() string { return "update_order_payment_state" }

func (UpdateOrderPaymentState) Apply(_ context.Context, run *Run) error {
	order := run.Order
	previous := order.PaymentState
	order.PaymentState = DeterminePaymentState(order)
	run.Record(domain.TimelinePaymentState, string(previous), string(order.PaymentState))
	return nil
}

// DeterminePaymentState сравнивает payment_total и total, округлённые до центов.
func DeterminePaymentState(order *domain.Order) domain.PaymentState {
	paid := domain.RoundMoney(order.PaymentTotal)
	total := domain.RoundMoney(order.Total)

	switch {
	case len(order.LineItems) == 0 || paid.LessThan(total):
		return underpaidState(order)
	case paid.GreaterThan(total):
		return domain.PaymentStateCreditOwed
	default:
		return domain.PaymentStatePaid
	}
}

func underpaidState(order *domain.Order) domain.PaymentState {
	if len(order.Payments) == 0 {
		return domain.PaymentStateBalanceDue
	}
	if order.Canceled() {
		return domain.PaymentStateVoid
	}

	last := order.Payments[len(order.Payments)-1]
	switch last.Status {
	case domain.PaymentStatusFailed:
		return domain.PaymentStateFailed
	case domain.PaymentStatusCheckout:
		return domain.PaymentStatePending
	case domain.PaymentStatusCompleted:
		if len(order.LineItems) == 0 {
			return domain.PaymentStateCreditOwed
		}
		return domain.PaymentStateBalanceDue
	case domain.PaymentStatusPending:
		return domain.PaymentStateBalanceDue
	default:
		return domain.PaymentStateCreditOwed
	}
}
