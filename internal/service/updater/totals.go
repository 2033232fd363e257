package updater

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// UpdateOrderTotals сворачивает итоги позиций, отгрузок и корректировок заказа.
// total = item_total + shipment_total + adjustment_total.
type UpdateOrderTotals struct{}

func (UpdateOrderTotals) Name() string { return "update_order_totals" }

func (UpdateOrderTotals) Apply(_ context.Context, run *Run) error {
	order := run.Order

	var (
		itemCount     int
		itemTotal     = decimal.Zero
		shipmentTotal = decimal.Zero
		adjustment    = decimal.Zero
		promo         = decimal.Zero
		includedTax   = decimal.Zero
		additionalTax = decimal.Zero
	)

	for _, item := range order.LineItems {
		itemCount += item.Quantity
		itemTotal = itemTotal.Add(item.Amount())
		adjustment = adjustment.Add(item.AdjustmentTotal)
		promo = promo.Add(item.PromoTotal)
		includedTax = includedTax.Add(item.IncludedTaxTotal)
		additionalTax = additionalTax.Add(item.AdditionalTaxTotal)
	}
	for _, shipment := range order.Shipments {
		shipmentTotal = shipmentTotal.Add(shipment.Cost)
		adjustment = adjustment.Add(shipment.AdjustmentTotal)
		promo = promo.Add(shipment.PromoTotal)
		includedTax = includedTax.Add(shipment.IncludedTaxTotal)
		additionalTax = additionalTax.Add(shipment.AdditionalTaxTotal)
	}
	for _, adj := range order.Adjustments {
		if adj.Adjustable.Kind != domain.AdjustableOrder || !adj.Eligible {
			continue
		}
		if adj.Tax() {
			if adj.Included {
				includedTax = includedTax.Add(adj.Amount)
				continue
			}
			additionalTax = additionalTax.Add(adj.Amount)
		}
		adjustment = adjustment.Add(adj.Amount)
		if adj.Promotion() {
			promo = promo.Add(adj.Amount)
		}
	}

	order.ItemCount = itemCount
	order.ItemTotal = itemTotal
	order.ShipmentTotal = shipmentTotal
	order.AdjustmentTotal = adjustment
	order.PromoTotal = promo
	order.IncludedTaxTotal = includedTax
	order.AdditionalTaxTotal = additionalTax
	order.PaymentTotal = order.CompletedPaymentTotal()
	order.Total = itemTotal.Add(shipmentTotal).Add(adjustment)
	return nil
}
