package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusCheckout: платёж создан на шаге checkout.
	PaymentStatusCheckout PaymentStatus = "checkout"
	// PaymentStatusPending: сумма авторизована и ждёт захвата.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing: идёт обращение к шлюзу.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted: деньги списаны.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed: провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusVoid: авторизация отменена.
	PaymentStatusVoid PaymentStatus = "void"
	// PaymentStatusInvalid: платёж заменён другим.
	PaymentStatusInvalid PaymentStatus = "invalid"
)

// PaymentMethodType: тип платёжного метода; задаёт приоритет списания.
type PaymentMethodType string

const (
	PaymentMethodStoreCredit PaymentMethodType = "store_credit"
	PaymentMethodGiftCard    PaymentMethodType = "gift_card"
	PaymentMethodCreditCard  PaymentMethodType = "credit_card"
	PaymentMethodCheck       PaymentMethodType = "check"
)

// Payment: платёж заказа.
type Payment struct {
	ID             string
	MethodType     PaymentMethodType
	Provider       string
	ExternalID     string // Может быть пустым, если провайдер не возвращает идентификатор.
	Status         PaymentStatus
	Amount         decimal.Decimal
	CapturedAmount decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UncapturedAmount: авторизованная, но ещё не списанная сумма.
func (p Payment) UncapturedAmount() decimal.Decimal {
	return p.Amount.Sub(p.CapturedAmount)
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	switch {
	case p.ID == "":
		errs = append(errs, ErrPaymentIDRequired)
	case p.Amount.IsNegative():
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// PendingPayments возвращает авторизованные платежи в порядке добавления.
func (o *Order) PendingPayments() []*Payment {
	var payments []*Payment
	for i := range o.Payments {
		if o.Payments[i].Status == PaymentStatusPending {
			payments = append(payments, &o.Payments[i])
		}
	}
	return payments
}

// CompletedPaymentTotal: сумма завершённых платежей.
func (o *Order) CompletedPaymentTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Payments {
		if p.Status == PaymentStatusCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// ApplyCapture фиксирует успешный захват части платежа. Захваченная часть закрывает
// платёж, остаток выделяется в новый pending-платёж с идентификатором remainderID.
func (o *Order) ApplyCapture(paymentID string, captured decimal.Decimal, remainderID string, at time.Time) bool {
	payment, ok := o.Payment(paymentID)
	if !ok {
		return false
	}

	remainder := payment.Amount.Sub(payment.CapturedAmount).Sub(captured)
	payment.CapturedAmount = payment.CapturedAmount.Add(captured)
	payment.Amount = payment.CapturedAmount
	payment.Status = PaymentStatusCompleted
	payment.UpdatedAt = at

	if remainder.IsPositive() {
		split := Payment{
			ID:         remainderID,
			MethodType: payment.MethodType,
			Provider:   payment.Provider,
			ExternalID: payment.ExternalID,
			Status:     PaymentStatusPending,
			Amount:     remainder,
			CreatedAt:  at,
			UpdatedAt:  at,
		}
		o.Payments = append(o.Payments, split)
	}
	return true
}
