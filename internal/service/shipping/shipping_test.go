package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/mutex"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderledger/internal/service/updater"
	"github.com/vladislavdragonenkov/orderledger/internal/storage/memory"
)

type fixture struct {
	orders   *memory.OrderRepository
	cartons  *memory.CartonRepository
	stockRep *memory.StockRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	mutex    *mutex.Memory
	updater  *updater.OrderUpdater
	stock    *Stock
	opts     []Option
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   memory.NewOrderRepository(),
		stockRep: memory.NewStockRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		mutex:    mutex.NewMemory(),
	}
	f.cartons = memory.NewCartonRepository(f.orders, f.outbox)
	f.updater = updater.NewOrderUpdater(f.orders, f.timeline, updater.Dependencies{})
	f.stock = NewStock(f.stockRep, nil)

	seq := 0
	f.opts = []Option{
		WithNow(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("carton-%d", seq)
		}),
	}
	return f
}

func (f *fixture) seed(t *testing.T, order domain.Order) {
	t.Helper()
	if _, err := f.updater.Recalculate(context.Background(), &order); err != nil {
		t.Fatalf("seed recalculate: %v", err)
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) orderShipping() *OrderShipping {
	mailer := NewOutboxMailer(outbox.NewEmitter(f.outbox, nil, nil))
	return NewOrderShipping(f.orders, f.cartons, f.mutex, f.updater, mailer, domain.DefaultStoreConfig(), f.opts...)
}

func (f *fixture) shipments() *Shipments {
	return NewShipments(f.orders, f.mutex, f.updater, f.stock, f.opts...)
}

// paidOrder: завершённый оплаченный заказ с одной отгрузкой на loc-1.
func paidOrder(units ...domain.InventoryUnitState) domain.Order {
	order := domain.Order{
		ID:          "o1",
		State:       domain.OrderStateComplete,
		Currency:    "USD",
		CompletedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		LineItems: []domain.LineItem{
			{ID: "li-1", Price: domain.MustMoney("10"), Quantity: len(units), Currency: "USD", Variant: domain.Variant{ID: "v-1"}},
		},
		Shipments: []domain.Shipment{
			{ID: "sh-1", Number: "H100", StockLocationID: "loc-1", ShippingMethodID: "ups", State: domain.ShipmentStatePending},
		},
		StockLocations: []domain.OrderStockLocation{
			{VariantID: "v-1", StockLocationID: "loc-1", Quantity: len(units)},
		},
		Payments: []domain.Payment{{
			ID:             "p1",
			MethodType:     domain.PaymentMethodCreditCard,
			Status:         domain.PaymentStatusCompleted,
			Amount:         domain.MustMoney(fmt.Sprint(10 * len(units))),
			CapturedAmount: domain.MustMoney(fmt.Sprint(10 * len(units))),
		}},
	}
	for i, state := range units {
		order.InventoryUnits = append(order.InventoryUnits, domain.InventoryUnit{
			ID:         fmt.Sprintf("u-%d", i+1),
			LineItemID: "li-1",
			VariantID:  "v-1",
			ShipmentID: "sh-1",
			State:      state,
		})
	}
	return order
}

func TestShipUnits_PartialThenFull(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand, domain.UnitStateOnHand))
	svc := f.orderShipping()

	carton, err := svc.ShipUnits(context.Background(), ShipRequest{OrderID: "o1", UnitIDs: []string{"u-1"}, Tracking: "1Z"})
	if err != nil {
		t.Fatalf("ShipUnits() error = %v", err)
	}
	if carton.Number == "" || carton.Number[0] != 'C' {
		t.Fatalf("carton number must start with C, got %q", carton.Number)
	}
	if carton.StockLocationID != "loc-1" {
		t.Fatalf("carton stock location = %q, want shipment location", carton.StockLocationID)
	}

	stored, _ := f.orders.Get("o1")
	unit, _ := stored.InventoryUnit("u-1")
	if unit.State != domain.UnitStateShipped || unit.CartonID != carton.ID {
		t.Fatalf("unit not shipped into carton: %+v", unit)
	}
	if stored.ShipmentState != domain.ShipmentStatePartial {
		t.Fatalf("order shipment state = %s, want partial", stored.ShipmentState)
	}
	shipment, _ := stored.Shipment("sh-1")
	if shipment.State == domain.ShipmentStateShipped {
		t.Fatalf("shipment with units left must not be shipped")
	}
	if !stored.StockLocations[0].Fulfilled {
		t.Fatalf("order stock location must be fulfilled")
	}

	if _, err := svc.ShipUnits(context.Background(), ShipRequest{OrderID: "o1", UnitIDs: []string{"u-2"}, Tracking: "1Z"}); err != nil {
		t.Fatalf("second ShipUnits() error = %v", err)
	}
	stored, _ = f.orders.Get("o1")
	shipment, _ = stored.Shipment("sh-1")
	if shipment.State != domain.ShipmentStateShipped || shipment.Tracking != "1Z" {
		t.Fatalf("shipment must be shipped once every unit left: %+v", shipment)
	}
	if stored.ShipmentState != domain.ShipmentStateShipped {
		t.Fatalf("order shipment state = %s, want shipped", stored.ShipmentState)
	}
}

func TestShipUnits_EnqueuesOneMailerMessage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand, domain.UnitStateOnHand))

	carton, err := f.orderShipping().ShipUnits(context.Background(), ShipRequest{OrderID: "o1", UnitIDs: []string{"u-1", "u-2"}})
	if err != nil {
		t.Fatalf("ShipUnits() error = %v", err)
	}

	pending := f.outbox.AllPending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one outbox message, got %d", len(pending))
	}
	msg := pending[0]
	if msg.EventType != domain.EventCartonShipped || msg.AggregateID != carton.ID {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var payload domain.CartonShippedEvent
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.CartonID != carton.ID || payload.OrderID != "o1" || payload.Resend {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestShipUnits_CartonConflictEnqueuesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand))
	stored, _ := f.orders.Get("o1")
	// идентификатор первой коробки уже занят
	if err := f.cartons.Create(domain.Carton{ID: "carton-1", OrderID: "o1"}, stored); err != nil {
		t.Fatalf("occupy carton id: %v", err)
	}

	_, err := f.orderShipping().ShipUnits(context.Background(), ShipRequest{OrderID: "o1", UnitIDs: []string{"u-1"}})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected carton conflict to be returned, got %v", err)
	}
	if pending := f.outbox.AllPending(); len(pending) != 0 {
		t.Fatalf("rejected carton must not enqueue mail: %+v", pending)
	}
	after, _ := f.orders.Get("o1")
	if unit, _ := after.InventoryUnit("u-1"); unit.State != domain.UnitStateOnHand {
		t.Fatalf("unit state = %s, want on_hand", unit.State)
	}
}

func TestShipUnits_Errors(t *testing.T) {
	tests := []struct {
		name    string
		units   []domain.InventoryUnitState
		unitIDs []string
		check   func(error) bool
	}{
		{name: "empty carton", units: []domain.InventoryUnitState{domain.UnitStateOnHand}, unitIDs: nil, check: func(err error) bool { return errors.Is(err, domain.ErrNoUnitsToShip) }},
		{name: "unit of other order", units: []domain.InventoryUnitState{domain.UnitStateOnHand}, unitIDs: []string{"u-9"}, check: func(err error) bool { return errors.Is(err, domain.ErrUnitsFromOtherOrder) }},
		{name: "already shipped", units: []domain.InventoryUnitState{domain.UnitStateShipped}, unitIDs: []string{"u-1"}, check: func(err error) bool { return errors.Is(err, domain.ErrInvalidTransition) }},
		{name: "backordered without backorder shipping", units: []domain.InventoryUnitState{domain.UnitStateBackordered}, unitIDs: []string{"u-1"}, check: domain.IsPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, paidOrder(tt.units...))

			_, err := f.orderShipping().ShipUnits(context.Background(), ShipRequest{OrderID: "o1", UnitIDs: tt.unitIDs})
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.outbox.AllPending()) != 0 {
				t.Fatalf("failed shipping must not enqueue mail")
			}
			if cartons, _ := f.cartons.ListByOrder("o1"); len(cartons) != 0 {
				t.Fatalf("failed shipping must not persist a carton")
			}
		})
	}
}

func TestShipShipmentAndResend(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand, domain.UnitStateOnHand))
	svc := f.orderShipping()

	carton, err := svc.ShipShipment(context.Background(), "o1", "sh-1", "1Z")
	if err != nil {
		t.Fatalf("ShipShipment() error = %v", err)
	}
	if len(carton.Units) != 2 || carton.ShippingMethodID != "ups" {
		t.Fatalf("unexpected carton: %+v", carton)
	}

	if err := svc.Resend(context.Background(), carton.ID); err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	pending := f.outbox.AllPending()
	if len(pending) != 2 {
		t.Fatalf("expected shipped + resend messages, got %d", len(pending))
	}
	var payload map[string]any
	if err := json.Unmarshal(pending[1].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["resend"] != true {
		t.Fatalf("resend flag missing: %v", payload)
	}

	if err := svc.Resend(context.Background(), "missing"); !errors.Is(err, domain.ErrCartonNotFound) {
		t.Fatalf("expected ErrCartonNotFound, got %v", err)
	}
}

func TestCancelAndResumeShipment_MovesStock(t *testing.T) {
	f := newFixture(t)
	order := paidOrder(domain.UnitStateOnHand, domain.UnitStateOnHand, domain.UnitStateBackordered)
	f.seed(t, order)
	if _, err := f.stockRep.UpsertStockItem(domain.StockItem{StockLocationID: "loc-1", VariantID: "v-1"}); err != nil {
		t.Fatalf("stock item: %v", err)
	}
	svc := f.shipments()

	canceled, err := svc.CancelShipment(context.Background(), "o1", "sh-1")
	if err != nil {
		t.Fatalf("CancelShipment() error = %v", err)
	}
	if canceled.State != domain.ShipmentStateCanceled {
		t.Fatalf("state = %s, want canceled", canceled.State)
	}
	count, ok, err := f.stock.CountOnHand("loc-1", "v-1")
	if err != nil || !ok || count != 3 {
		t.Fatalf("count after cancel = %d (ok=%v, err=%v), want 3", count, ok, err)
	}
	movements, _ := f.stockRep.Movements("loc-1", "v-1")
	if len(movements) != 2 || movements[1].Originator != OriginatorBackorder {
		t.Fatalf("expected restock and backorder movements, got %+v", movements)
	}

	resumed, err := svc.ResumeShipment(context.Background(), "o1", "sh-1")
	if err != nil {
		t.Fatalf("ResumeShipment() error = %v", err)
	}
	// backordered единица держит отгрузку в pending
	if resumed.State != domain.ShipmentStatePending {
		t.Fatalf("state = %s, want pending", resumed.State)
	}
	count, _, _ = f.stock.CountOnHand("loc-1", "v-1")
	if count != 0 {
		t.Fatalf("count after resume = %d, want 0", count)
	}

	events, _ := f.timeline.List("o1")
	if len(events) == 0 {
		t.Fatalf("shipment transitions must be recorded in the timeline")
	}
}

func TestResumeShipment_ReadyWhenPaid(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand))
	svc := f.shipments()

	if _, err := svc.CancelShipment(context.Background(), "o1", "sh-1"); err != nil {
		t.Fatalf("CancelShipment() error = %v", err)
	}
	resumed, err := svc.ResumeShipment(context.Background(), "o1", "sh-1")
	if err != nil {
		t.Fatalf("ResumeShipment() error = %v", err)
	}
	if resumed.State != domain.ShipmentStateReady {
		t.Fatalf("state = %s, want ready", resumed.State)
	}
}

func TestShipmentFire_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, paidOrder(domain.UnitStateOnHand))

	_, err := f.shipments().ResumeShipment(context.Background(), "o1", "sh-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("resume of a non-canceled shipment must fail, got %v", err)
	}
	if movements, _ := f.stockRep.Movements("loc-1", "v-1"); len(movements) != 0 {
		t.Fatalf("failed transition must not move stock")
	}

	if _, err := f.shipments().CancelShipment(context.Background(), "o1", "missing"); !errors.Is(err, domain.ErrShipmentNotFound) {
		t.Fatalf("expected ErrShipmentNotFound, got %v", err)
	}
}

func TestStock_CountOnHand(t *testing.T) {
	repo := memory.NewStockRepository()
	stock := NewStock(repo, nil)
	if _, err := stock.Restock("loc", "plain", 2, "test"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if _, err := stock.Unstock("loc", "plain", 5, "test"); err != nil {
		t.Fatalf("unstock: %v", err)
	}

	tests := []struct {
		name      string
		variant   string
		wantCount int
		wantOK    bool
	}{
		{name: "negative count", variant: "plain", wantCount: -3, wantOK: true},
		{name: "no stock item", variant: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, ok, err := stock.CountOnHand("loc", tt.variant)
			if err != nil {
				t.Fatalf("CountOnHand() error = %v", err)
			}
			if count != tt.wantCount || ok != tt.wantOK {
				t.Fatalf("CountOnHand() = (%d, %v), want (%d, %v)", count, ok, tt.wantCount, tt.wantOK)
			}
		})
	}

	if _, err := stock.Unstock("loc", "missing", 1, "test"); !errors.Is(err, domain.ErrInvalidMovement) {
		t.Fatalf("unstock of absent item must fail, got %v", err)
	}
}
