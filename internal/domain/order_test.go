package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// helper для создания завершённого заказа с одной позицией на две единицы.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		Number:      "R100",
		State:       domain.OrderStateComplete,
		Currency:    "USD",
		CompletedAt: now,
		LineItems: []domain.LineItem{
			{
				ID:       "li-1",
				Variant:  domain.Variant{ID: "v-1", SKU: "sku-1", ProductID: "p-1", Promotionable: true},
				Price:    domain.MustMoney("10.00"),
				Quantity: 2,
				Currency: "USD",
			},
		},
		Shipments: []domain.Shipment{
			{ID: "sh-1", StockLocationID: "loc-1", State: domain.ShipmentStatePending},
		},
		InventoryUnits: []domain.InventoryUnit{
			{ID: "iu-1", LineItemID: "li-1", VariantID: "v-1", ShipmentID: "sh-1", State: domain.UnitStateOnHand},
			{ID: "iu-2", LineItemID: "li-1", VariantID: "v-1", ShipmentID: "sh-1", State: domain.UnitStateBackordered},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidate_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no currency", mut: func(o *domain.Order) { o.Currency = "" }},
		{name: "no id", mut: func(o *domain.Order) { o.ID = "" }},
		{name: "zero quantity", mut: func(o *domain.Order) { o.LineItems[0].Quantity = 0 }},
		{name: "negative price", mut: func(o *domain.Order) { o.LineItems[0].Price = domain.MustMoney("-1") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if errs := order.Validate(); len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
		})
	}
}

func TestOrderClone_DoesNotShareCollections(t *testing.T) {
	order := makeOrder()
	clone := order.Clone()

	clone.InventoryUnits[0].State = domain.UnitStateCanceled
	clone.LineItems[0].Quantity = 5

	if order.InventoryUnits[0].State != domain.UnitStateOnHand {
		t.Fatalf("clone mutated original unit state")
	}
	if order.LineItems[0].Quantity != 2 {
		t.Fatalf("clone mutated original line item")
	}
}

func TestOrderLookups(t *testing.T) {
	order := makeOrder()

	if !order.Backordered() {
		t.Fatalf("expected order to be backordered")
	}
	if units := order.UnitsForLineItem("li-1"); len(units) != 2 {
		t.Fatalf("unexpected units for line item: %d", len(units))
	}
	if _, ok := order.InventoryUnit("missing"); ok {
		t.Fatalf("expected missing unit lookup to fail")
	}

	unit, _ := order.InventoryUnit("iu-1")
	unit.State = domain.UnitStateShipped
	if order.InventoryUnits[0].State != domain.UnitStateShipped {
		t.Fatalf("lookup must return pointer into aggregate")
	}
}

func TestVariantFor_ReturnsDeletedVariant(t *testing.T) {
	order := makeOrder()
	order.LineItems[0].Variant.DeletedAt = time.Now()

	variant, ok := order.VariantFor(order.InventoryUnits[0])
	if !ok {
		t.Fatalf("expected variant for historical unit")
	}
	if !variant.Deleted() || variant.ID != "v-1" {
		t.Fatalf("unexpected variant: %+v", variant)
	}
}

func TestLineItemTotals(t *testing.T) {
	item := domain.LineItem{
		Price:           domain.MustMoney("0.83"),
		Quantity:        2,
		AdjustmentTotal: domain.MustMoney("0.01"),
		PromoTotal:      domain.MustMoney("-0.50"),
	}

	if !item.Amount().Equal(domain.MustMoney("1.66")) {
		t.Fatalf("unexpected amount: %s", item.Amount())
	}
	if !item.Total().Equal(domain.MustMoney("1.67")) {
		t.Fatalf("unexpected total: %s", item.Total())
	}
	if !item.DiscountedAmount().Equal(domain.MustMoney("1.16")) {
		t.Fatalf("unexpected discounted amount: %s", item.DiscountedAmount())
	}
}

func TestManifest_GroupsByVariantAndState(t *testing.T) {
	order := makeOrder()

	manifest := order.Manifest("sh-1")
	if len(manifest) != 1 {
		t.Fatalf("expected single manifest item, got %d", len(manifest))
	}
	item := manifest[0]
	if item.Quantity != 2 {
		t.Fatalf("unexpected quantity: %d", item.Quantity)
	}
	if item.States[domain.UnitStateOnHand] != 1 || item.States[domain.UnitStateBackordered] != 1 {
		t.Fatalf("unexpected states: %v", item.States)
	}
}

func TestDetermineShipmentState(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want domain.ShipmentState
	}{
		{
			name: "canceled order",
			mut:  func(o *domain.Order) { o.State = domain.OrderStateCanceled },
			want: domain.ShipmentStateCanceled,
		},
		{
			name: "order not shippable yet",
			mut:  func(o *domain.Order) { o.State = domain.OrderStatePayment },
			want: domain.ShipmentStatePending,
		},
		{
			name: "backordered unit keeps pending",
			mut:  func(o *domain.Order) { o.PaymentState = domain.PaymentStatePaid },
			want: domain.ShipmentStatePending,
		},
		{
			name: "paid order is ready",
			mut: func(o *domain.Order) {
				o.PaymentState = domain.PaymentStatePaid
				o.InventoryUnits[1].State = domain.UnitStateOnHand
			},
			want: domain.ShipmentStateReady,
		},
		{
			name: "unpaid order is pending",
			mut: func(o *domain.Order) {
				o.PaymentState = domain.PaymentStateBalanceDue
				o.InventoryUnits[1].State = domain.UnitStateOnHand
			},
			want: domain.ShipmentStatePending,
		},
		{
			name: "shipped stays shipped",
			mut: func(o *domain.Order) {
				o.InventoryUnits[1].State = domain.UnitStateShipped
				o.Shipments[0].State = domain.ShipmentStateShipped
			},
			want: domain.ShipmentStateShipped,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if got := order.DetermineShipmentState("sh-1"); got != tc.want {
				t.Fatalf("DetermineShipmentState() = %q, want %q", got, tc.want)
			}
		})
	}
}
