package amendment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/mutex"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderledger/internal/service/updater"
)

type stubOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	saves  int
}

func (s *stubOrders) Create(order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *stubOrders) Get(id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *stubOrders) Save(order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *stubOrders) ListCapturable(int) ([]domain.Order, error) { return nil, nil }
func (s *stubOrders) UpdateTotals(domain.Order) error            { return nil }

type stubTimeline struct {
	events []domain.TimelineEvent
}

func (s *stubTimeline) Append(events ...domain.TimelineEvent) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *stubTimeline) List(string, ...string) ([]domain.TimelineEvent, error) { return s.events, nil }

type stubOutbox struct {
	messages []domain.OutboxMessage
}

func (s *stubOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg.ID = fmt.Sprintf("msg-%d", len(s.messages)+1)
	s.messages = append(s.messages, msg)
	return msg, nil
}
func (s *stubOutbox) PullPending(int) ([]domain.OutboxMessage, error) { return nil, nil }
func (s *stubOutbox) Stats() (domain.OutboxStats, error)              { return domain.OutboxStats{}, nil }
func (s *stubOutbox) MarkSent(string) error                           { return nil }
func (s *stubOutbox) MarkFailed(string) error                         { return nil }

func money(v string) decimal.Decimal { return domain.MustMoney(v) }

type fixture struct {
	orders   *stubOrders
	timeline *stubTimeline
	outbox   *stubOutbox
	mutex    *mutex.Memory
	updater  *updater.OrderUpdater
	svc      *Cancellations
}

func newFixture(t *testing.T, order domain.Order) *fixture {
	t.Helper()

	f := &fixture{
		orders:   &stubOrders{orders: map[string]domain.Order{}},
		timeline: &stubTimeline{},
		outbox:   &stubOutbox{},
		mutex:    mutex.NewMemory(),
	}
	f.updater = updater.NewOrderUpdater(f.orders, f.timeline, updater.Dependencies{})

	if _, err := f.updater.Recalculate(context.Background(), &order); err != nil {
		t.Fatalf("seed recalculate: %v", err)
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	seq := 0
	f.svc = NewCancellations(f.orders, f.mutex, f.updater, domain.DefaultStoreConfig(),
		WithEmitter(outbox.NewEmitter(f.outbox, nil, nil)),
		WithNow(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return f
}

// completeOrder: завершённый заказ с одной позицией price x quantity и
// единицами u-1..u-N в состоянии on_hand.
func completeOrder(price string, quantity int) domain.Order {
	order := domain.Order{
		ID:       "order-1",
		State:    domain.OrderStateComplete,
		Currency: "USD",
		LineItems: []domain.LineItem{
			{ID: "li-1", Price: money(price), Quantity: quantity, Variant: domain.Variant{ID: "v-1", Promotionable: true}},
		},
		Shipments: []domain.Shipment{{ID: "sh-1", State: domain.ShipmentStatePending}},
	}
	for i := 1; i <= quantity; i++ {
		order.InventoryUnits = append(order.InventoryUnits, domain.InventoryUnit{
			ID:         fmt.Sprintf("u-%d", i),
			LineItemID: "li-1",
			VariantID:  "v-1",
			ShipmentID: "sh-1",
			State:      domain.UnitStateOnHand,
		})
	}
	return order
}

func TestShortShip_SingleUnit(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 1))
	before, _ := f.orders.Get("order-1")
	if !before.Total.Equal(money("10")) {
		t.Fatalf("seed total = %s", before.Total)
	}

	cancels, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1"}, "warehouse-bot")
	if err != nil {
		t.Fatalf("ShortShip() error = %v", err)
	}
	if len(cancels) != 1 {
		t.Fatalf("expected one cancel, got %d", len(cancels))
	}
	if cancels[0].Reason != domain.UnitCancelShortShip || cancels[0].CreatedBy != "warehouse-bot" {
		t.Fatalf("unexpected cancel: %+v", cancels[0])
	}

	after, _ := f.orders.Get("order-1")
	if diff := after.Total.Sub(before.Total); !diff.Equal(money("-10")) {
		t.Fatalf("order total changed by %s, want -10.00", diff)
	}
	unit, _ := after.InventoryUnit("u-1")
	if unit.State != domain.UnitStateCanceled {
		t.Fatalf("unit state = %s, want canceled", unit.State)
	}
	if len(after.UnitCancels) != 1 {
		t.Fatalf("unit cancel was not persisted")
	}

	adjustments := after.AdjustmentsFor(domain.LineItemRef("li-1"))
	if len(adjustments) != 1 {
		t.Fatalf("expected one cancellation adjustment, got %d", len(adjustments))
	}
	adj := adjustments[0]
	if !adj.Finalized || !adj.Eligible || adj.Source.Kind != domain.SourceUnitCancel || adj.Source.ID != cancels[0].ID {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}
	if adj.Label != "Cancellation - Short Ship" {
		t.Fatalf("label = %q", adj.Label)
	}
	if f.orders.saves != 1 {
		t.Fatalf("expected single save, got %d", f.orders.saves)
	}
}

func TestShortShip_UnevenDivisionKeepsPennies(t *testing.T) {
	order := completeOrder("0.83", 2)
	order.Adjustments = []domain.Adjustment{{
		ID:         "tax-1",
		Adjustable: domain.LineItemRef("li-1"),
		Source:     domain.AdjustmentSource{Kind: domain.SourceTaxRate, ID: "fake"},
		Amount:     money("0.01"),
		Label:      "some fake tax",
		Eligible:   true,
		Finalized:  true,
	}}
	f := newFixture(t, order)

	seeded, _ := f.orders.Get("order-1")
	if !seeded.Total.Equal(money("1.67")) {
		t.Fatalf("seed total = %s, want 1.67", seeded.Total)
	}

	if _, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1"}, ""); err != nil {
		t.Fatalf("first ShortShip() error = %v", err)
	}
	if _, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-2"}, ""); err != nil {
		t.Fatalf("second ShortShip() error = %v", err)
	}

	after, _ := f.orders.Get("order-1")
	sum := decimal.Zero
	for _, adj := range after.AdjustmentsFor(domain.LineItemRef("li-1")) {
		if !adj.Tax() {
			sum = sum.Add(adj.Amount)
		}
	}
	if !sum.Equal(money("-1.67")) {
		t.Fatalf("cancellation adjustments sum = %s, want -1.67", sum)
	}
	item, _ := after.LineItem("li-1")
	if !item.Total().IsZero() {
		t.Fatalf("line item total = %s, want 0", item.Total())
	}
	if !after.Total.IsZero() {
		t.Fatalf("order total = %s, want 0", after.Total)
	}
}

func TestShortShip_UnitsFromOtherOrder(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 2))

	_, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1", "foreign-unit"}, "")
	if !errors.Is(err, domain.ErrUnitsFromOtherOrder) {
		t.Fatalf("expected ErrUnitsFromOtherOrder, got %v", err)
	}

	stored, _ := f.orders.Get("order-1")
	if len(stored.UnitCancels) != 0 || f.orders.saves != 0 {
		t.Fatalf("no unit must be processed")
	}
}

func TestShortShip_FailureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 2))

	_, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1", "u-1"}, "")
	if !errors.Is(err, domain.ErrInventoryPreviouslyProcessed) {
		t.Fatalf("expected ErrInventoryPreviouslyProcessed, got %v", err)
	}
	if !domain.IsPrecondition(err) {
		t.Fatalf("error must be a precondition failure")
	}

	stored, _ := f.orders.Get("order-1")
	unit, _ := stored.InventoryUnit("u-1")
	if unit.State != domain.UnitStateOnHand || len(stored.UnitCancels) != 0 || len(stored.Adjustments) != 0 {
		t.Fatalf("stored order must be unchanged, got %+v", stored)
	}
	if len(f.outbox.messages) != 0 {
		t.Fatalf("no event must be enqueued on failure")
	}
}

func TestShortShip_ShippedUnitIsInvalidTransition(t *testing.T) {
	order := completeOrder("10.00", 1)
	order.InventoryUnits[0].State = domain.UnitStateShipped
	f := newFixture(t, order)

	_, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1"}, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestShortShip_LockHeldByAnotherCall(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 2))

	err := f.mutex.WithLock(context.Background(), "order-1", func(ctx context.Context) error {
		_, err := f.svc.ShortShip(ctx, "order-1", []string{"u-2"}, "")
		return err
	})
	if !errors.Is(err, domain.ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed, got %v", err)
	}

	stored, _ := f.orders.Get("order-1")
	if len(stored.UnitCancels) != 0 {
		t.Fatalf("second call must not interleave")
	}
}

func TestShortShip_RecordsTimelineAndEvent(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 2))

	if _, err := f.svc.ShortShip(context.Background(), "order-1", []string{"u-1", "u-2"}, "ops"); err != nil {
		t.Fatalf("ShortShip() error = %v", err)
	}

	found := false
	for _, event := range f.timeline.events {
		if event.Type == domain.TimelineShortShip {
			found = true
			if event.Next != "0.00" {
				t.Fatalf("timeline must carry the new total, got %q", event.Next)
			}
		}
	}
	if !found {
		t.Fatalf("short ship timeline event not recorded: %+v", f.timeline.events)
	}

	if len(f.outbox.messages) != 1 {
		t.Fatalf("expected one outbox message, got %d", len(f.outbox.messages))
	}
	msg := f.outbox.messages[0]
	if msg.EventType != domain.EventOrderShortShipped || msg.AggregateID != "order-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestShortShip_EmptyBatchIsNoop(t *testing.T) {
	f := newFixture(t, completeOrder("10.00", 1))

	cancels, err := f.svc.ShortShip(context.Background(), "order-1", nil, "")
	if err != nil || cancels != nil {
		t.Fatalf("ShortShip(nil) = %v, %v", cancels, err)
	}
	if f.orders.saves != 0 {
		t.Fatalf("empty batch must not save")
	}
}
