// Package ledger считает необработанные доли сумм позиции для одной единицы товара.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Calculator делит ещё не распределённые суммы позиции поровну между единицами,
// у которых нет ни capture, ни cancel. Последняя единица забирает остаток округления.
type Calculator struct {
	order    *domain.Order
	lineItem *domain.LineItem

	unprocessed int
	cancels     []*domain.UnitCancel
	captures    []*domain.InventoryUnitCapture
}

// NewCalculator строит калькулятор для единицы unitID. Если у единицы уже есть
// capture или cancel, возвращает ErrInventoryPreviouslyProcessed.
func NewCalculator(order *domain.Order, unitID string) (*Calculator, error) {
	unit, ok := order.InventoryUnit(unitID)
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", unitID, domain.ErrInventoryUnitNotFound)
	}
	if order.UnitProcessed(unitID) {
		return nil, fmt.Errorf("unit %s: %w", unitID, domain.ErrInventoryPreviouslyProcessed)
	}

	lineItem, ok := order.LineItem(unit.LineItemID)
	if !ok {
		return nil, fmt.Errorf("unit %s line item %s: %w", unitID, unit.LineItemID, domain.ErrLineItemNotFound)
	}

	c := &Calculator{order: order, lineItem: lineItem}
	for _, sibling := range order.UnitsForLineItem(lineItem.ID) {
		if sibling.ExchangeOrigin {
			continue
		}
		if capture, ok := order.UnitCaptureFor(sibling.ID); ok {
			c.captures = append(c.captures, capture)
			continue
		}
		if cancel, ok := order.UnitCancelFor(sibling.ID); ok {
			c.cancels = append(c.cancels, cancel)
			continue
		}
		c.unprocessed++
	}
	if c.unprocessed == 0 {
		return nil, fmt.Errorf("line item %s: %w", lineItem.ID, domain.ErrNegativeUnprocessedCount)
	}

	return c, nil
}

// Currency: валюта позиции.
func (c *Calculator) Currency() string {
	if c.lineItem.Currency != "" {
		return c.lineItem.Currency
	}
	return c.order.Currency
}

// PriceTotal: цена за единицу; не делится, потому что уже задана на единицу.
func (c *Calculator) PriceTotal() decimal.Decimal {
	return c.lineItem.Price
}

// PromotionTotal: доля промо-скидки позиции.
func (c *Calculator) PromotionTotal() decimal.Decimal {
	return c.amountToProcess(c.lineItem.PromoTotal, func(a domain.UnitAmounts) decimal.Decimal { return a.PromoTotal })
}

// AdditionalTaxTotal: доля налога сверх цены.
func (c *Calculator) AdditionalTaxTotal() decimal.Decimal {
	return c.amountToProcess(c.lineItem.AdditionalTaxTotal, func(a domain.UnitAmounts) decimal.Decimal { return a.AdditionalTaxTotal })
}

// IncludedTaxTotal: доля налога, включённого в цену.
func (c *Calculator) IncludedTaxTotal() decimal.Decimal {
	return c.amountToProcess(c.lineItem.IncludedTaxTotal, func(a domain.UnitAmounts) decimal.Decimal { return a.IncludedTaxTotal })
}

// OrderAdjustmentTotal: доля действующих корректировок уровня заказа.
func (c *Calculator) OrderAdjustmentTotal() decimal.Decimal {
	return c.amountToProcess(c.order.EligibleOrderAdjustmentTotal(), func(a domain.UnitAmounts) decimal.Decimal { return a.OrderAdjustmentTotal })
}

// Amounts собирает все измерения в один набор.
func (c *Calculator) Amounts() domain.UnitAmounts {
	return domain.UnitAmounts{
		Price:                c.PriceTotal(),
		PromoTotal:           c.PromotionTotal(),
		AdditionalTaxTotal:   c.AdditionalTaxTotal(),
		IncludedTaxTotal:     c.IncludedTaxTotal(),
		OrderAdjustmentTotal: c.OrderAdjustmentTotal(),
	}
}

func (c *Calculator) amountToProcess(total decimal.Decimal, dimension func(domain.UnitAmounts) decimal.Decimal) decimal.Decimal {
	processed := decimal.Zero
	for _, capture := range c.captures {
		processed = processed.Add(dimension(capture.UnitAmounts))
	}
	for _, cancel := range c.cancels {
		processed = processed.Add(dimension(cancel.UnitAmounts))
	}

	unprocessed := total.Sub(processed)
	return domain.RoundMoney(unprocessed.Div(decimal.NewFromInt(int64(c.unprocessed))))
}

// AmountCalculator: точка подмены расчёта долей (например, в тестах захвата).
type AmountCalculator interface {
	UnitAmounts(order *domain.Order, unitID string) (domain.UnitAmounts, string, error)
}

// Default: расчёт через Calculator.
type Default struct{}

// UnitAmounts возвращает доли единицы и валюту.
func (Default) UnitAmounts(order *domain.Order, unitID string) (domain.UnitAmounts, string, error) {
	calc, err := NewCalculator(order, unitID)
	if err != nil {
		return domain.UnitAmounts{}, "", err
	}
	return calc.Amounts(), calc.Currency(), nil
}
