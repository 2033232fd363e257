package updater

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// PromotionAdjuster пересчитывает промо-корректировку по её действию.
type PromotionAdjuster interface {
	// ComputeAdjustment возвращает новую сумму и признак применимости промо
	// к объекту корректировки.
	ComputeAdjustment(order *domain.Order, adjustment domain.Adjustment) (decimal.Decimal, bool, error)
}

// CalculateAdjustments пересчитывает незакрытые корректировки позиций, отгрузок
// и заказа, выбирает лучшую промо-корректировку и сворачивает итоги объекта.
type CalculateAdjustments struct {
	Promotions PromotionAdjuster
	TaxRates   []domain.TaxRate
}

func (CalculateAdjustments) Name() string { return "calculate_adjustments" }

func (s CalculateAdjustments) Apply(_ context.Context, run *Run) error {
	order := run.Order

	for i := range order.LineItems {
		item := &order.LineItems[i]
		totals, err := s.adjust(order, domain.LineItemRef(item.ID), item.Amount())
		if err != nil {
			return err
		}
		item.PromoTotal = totals.promo
		item.IncludedTaxTotal = totals.includedTax
		item.AdditionalTaxTotal = totals.additionalTax
		item.AdjustmentTotal = totals.adjustment
	}

	for i := range order.Shipments {
		shipment := &order.Shipments[i]
		totals, err := s.adjust(order, domain.ShipmentRef(shipment.ID), shipment.Cost)
		if err != nil {
			return err
		}
		shipment.PromoTotal = totals.promo
		shipment.IncludedTaxTotal = totals.includedTax
		shipment.AdditionalTaxTotal = totals.additionalTax
		shipment.AdjustmentTotal = totals.adjustment
	}

	// Итоги уровня заказа сворачивает UpdateOrderTotals.
	_, err := s.adjust(order, domain.OrderRef(order.ID), order.ItemTotal)
	return err
}

type adjustableTotals struct {
	promo         decimal.Decimal
	includedTax   decimal.Decimal
	additionalTax decimal.Decimal
	adjustment    decimal.Decimal
}

func (s CalculateAdjustments) adjust(order *domain.Order, ref domain.AdjustableRef, amount decimal.Decimal) (adjustableTotals, error) {
	adjustments := order.AdjustmentsFor(ref)

	for _, adj := range adjustments {
		if adj.Finalized || adj.Source.Kind != domain.SourcePromotionAction {
			continue
		}
		if s.Promotions == nil {
			continue
		}
		value, eligible, err := s.Promotions.ComputeAdjustment(order, *adj)
		if err != nil {
			return adjustableTotals{}, fmt.Errorf("adjustment %s: %w", adj.ID, err)
		}
		adj.Amount = value
		adj.Eligible = eligible
	}
	promo := chooseBestPromotion(adjustments)

	// Налог считается от суммы со скидкой.
	base := amount.Add(promo)
	totals := adjustableTotals{promo: promo, includedTax: decimal.Zero, additionalTax: decimal.Zero, adjustment: promo}

	for _, adj := range adjustments {
		switch adj.Source.Kind {
		case domain.SourcePromotionAction:
			// учтено выше
		case domain.SourceTaxRate:
			if !adj.Finalized {
				s.applyTaxRate(adj, base)
			}
			if !adj.Eligible {
				continue
			}
			if adj.Included {
				totals.includedTax = totals.includedTax.Add(adj.Amount)
				continue
			}
			totals.additionalTax = totals.additionalTax.Add(adj.Amount)
			totals.adjustment = totals.adjustment.Add(adj.Amount)
		case domain.SourceUnitCancel, domain.SourceManual:
			if adj.Eligible {
				totals.adjustment = totals.adjustment.Add(adj.Amount)
			}
		default:
			return adjustableTotals{}, fmt.Errorf("adjustment %s: unknown source %q", adj.ID, adj.Source.Kind)
		}
	}

	return totals, nil
}

func (s CalculateAdjustments) applyTaxRate(adj *domain.Adjustment, base decimal.Decimal) {
	rate, ok := s.taxRate(adj.Source.ID)
	if !ok {
		return
	}
	adj.Included = rate.IncludedInPrice
	if rate.IncludedInPrice {
		// base уже содержит налог: base - base/(1+rate)
		net := base.Div(decimal.NewFromInt(1).Add(rate.Amount))
		adj.Amount = domain.RoundMoney(base.Sub(net))
		return
	}
	adj.Amount = domain.RoundMoney(base.Mul(rate.Amount))
}

func (s CalculateAdjustments) taxRate(id string) (domain.TaxRate, bool) {
	for _, rate := range s.TaxRates {
		if rate.ID == id {
			return rate, true
		}
	}
	return domain.TaxRate{}, false
}

// chooseBestPromotion оставляет действующей одну промо-корректировку с наибольшей
// скидкой (первую при равенстве), остальные помечает неприменимыми.
func chooseBestPromotion(adjustments []*domain.Adjustment) decimal.Decimal {
	var best *domain.Adjustment
	for _, adj := range adjustments {
		if !adj.Promotion() || !adj.Eligible {
			continue
		}
		if best == nil || adj.Amount.LessThan(best.Amount) {
			best = adj
		}
	}
	if best == nil {
		return decimal.Zero
	}
	for _, adj := range adjustments {
		if adj.Promotion() && adj != best {
			adj.Eligible = false
		}
	}
	return best.Amount
}
