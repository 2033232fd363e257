package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitCancelShortShip: причина отмены при недовложении.
const UnitCancelShortShip = "Short Ship"

// UnitAmounts: зафиксированные доли позиции и заказа, приходящиеся на одну единицу.
type UnitAmounts struct {
	Price                decimal.Decimal
	PromoTotal           decimal.Decimal
	AdditionalTaxTotal   decimal.Decimal
	IncludedTaxTotal     decimal.Decimal
	OrderAdjustmentTotal decimal.Decimal
}

// Total: сумма к списанию/возврату по единице. Включённый налог уже в цене.
func (a UnitAmounts) Total() decimal.Decimal {
	return a.Price.Add(a.PromoTotal).Add(a.AdditionalTaxTotal).Add(a.OrderAdjustmentTotal)
}

// UnitCancel: запись об отмене единицы после завершения заказа. Неизменяема.
type UnitCancel struct {
	ID              string
	InventoryUnitID string
	UnitAmounts
	Reason    string
	CreatedBy string
	CreatedAt time.Time
}

// InventoryUnitCapture: захват денег за одну отгруженную единицу. Неизменяем.
type InventoryUnitCapture struct {
	ID              string
	CartonCaptureID string
	InventoryUnitID string
	OrderID         string
	Currency        string
	UnitAmounts
	CreatedAt time.Time
}

// CartonCapture: событие захвата оплаты за физическую коробку.
type CartonCapture struct {
	ID         string
	CartonID   string
	Captures   []InventoryUnitCapture
	CapturedAt time.Time
}

// Total: сумма по всем единицам коробки.
func (c CartonCapture) Total() decimal.Decimal {
	return TotalOf(c.Captures)
}

// TotalForOrder: сумма по единицам указанного заказа.
func (c CartonCapture) TotalForOrder(orderID string) decimal.Decimal {
	return TotalOf(c.CapturesForOrder(orderID))
}

// CapturesForOrder возвращает захваты единиц одного заказа.
func (c CartonCapture) CapturesForOrder(orderID string) []InventoryUnitCapture {
	var out []InventoryUnitCapture
	for _, capture := range c.Captures {
		if capture.OrderID == orderID {
			out = append(out, capture)
		}
	}
	return out
}

// OrderIDs возвращает заказы коробки в порядке первого появления.
func (c CartonCapture) OrderIDs() []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, capture := range c.Captures {
		if _, ok := seen[capture.OrderID]; ok {
			continue
		}
		seen[capture.OrderID] = struct{}{}
		ids = append(ids, capture.OrderID)
	}
	return ids
}

// TotalOf складывает суммы набора захватов.
func TotalOf(captures []InventoryUnitCapture) decimal.Decimal {
	total := decimal.Zero
	for _, capture := range captures {
		total = total.Add(capture.Total())
	}
	return total
}
