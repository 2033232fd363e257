package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentEvent: события автомата отгрузки.
type ShipmentEvent string

const (
	ShipmentEventReady  ShipmentEvent = "ready"
	ShipmentEventPend   ShipmentEvent = "pend"
	ShipmentEventShip   ShipmentEvent = "ship"
	ShipmentEventCancel ShipmentEvent = "cancel"
	ShipmentEventResume ShipmentEvent = "resume"
)

var shipmentStates = []ShipmentState{
	ShipmentStatePending,
	ShipmentStateReady,
	ShipmentStateShipped,
	ShipmentStateCanceled,
}

// Shipment: отгрузка со склада. До отправки владеет единицами товара.
type Shipment struct {
	ID                 string
	Number             string
	StockLocationID    string
	ShippingMethodID   string
	AddressID          string
	State              ShipmentState
	Cost               decimal.Decimal
	AdjustmentTotal    decimal.Decimal
	PromoTotal         decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	Tracking           string
	ShippedAt          time.Time
	CreatedAt          time.Time
}

// DiscountedCost: стоимость доставки с учётом промо.
func (s Shipment) DiscountedCost() decimal.Decimal {
	return s.Cost.Add(s.PromoTotal)
}

// DetermineShipmentState вычисляет состояние отгрузки по контексту заказа:
// canceled для отменённого заказа, pending пока заказ нельзя отгружать или есть backorder,
// shipped не меняется, иначе ready для оплаченного заказа.
func (o *Order) DetermineShipmentState(shipmentID string) ShipmentState {
	shipment, ok := o.Shipment(shipmentID)
	if !ok {
		return ShipmentStateNone
	}
	if o.Canceled() {
		return ShipmentStateCanceled
	}
	if !o.CanShip() {
		return ShipmentStatePending
	}
	for _, unit := range o.UnitsForShipment(shipmentID) {
		if unit.State == UnitStateBackordered {
			return ShipmentStatePending
		}
	}
	if shipment.State == ShipmentStateShipped {
		return ShipmentStateShipped
	}
	if o.Paid() {
		return ShipmentStateReady
	}
	return ShipmentStatePending
}

// ManifestItem: строка манифеста: вариант позиции и количество единиц по состояниям.
type ManifestItem struct {
	LineItemID string
	Variant    Variant
	Quantity   int
	States     map[InventoryUnitState]int
}

// Manifest группирует единицы отгрузки по варианту, затем по позиции.
func (o *Order) Manifest(shipmentID string) []ManifestItem {
	var (
		items []ManifestItem
		index = map[[2]string]int{}
	)
	for _, unit := range o.UnitsForShipment(shipmentID) {
		key := [2]string{unit.VariantID, unit.LineItemID}
		pos, ok := index[key]
		if !ok {
			variant, _ := o.VariantFor(*unit)
			items = append(items, ManifestItem{
				LineItemID: unit.LineItemID,
				Variant:    variant,
				States:     map[InventoryUnitState]int{},
			})
			pos = len(items) - 1
			index[key] = pos
		}
		items[pos].Quantity++
		items[pos].States[unit.State]++
	}
	return items
}

// ShipmentTransition: субъект автомата отгрузки: отгрузка и её заказ.
type ShipmentTransition struct {
	Order    *Order
	Shipment *Shipment
}

// ShipmentHooks: побочные эффекты переходов (склад, письма, timeline).
type ShipmentHooks struct {
	AfterShip    func(ctx context.Context, t *ShipmentTransition) error
	AfterCancel  func(ctx context.Context, t *ShipmentTransition) error
	AfterResume  func(ctx context.Context, t *ShipmentTransition) error
	OnTransition func(ctx context.Context, t *ShipmentTransition, event ShipmentEvent, from, to ShipmentState) error
}

// ShipmentMachine: автомат отгрузки.
type ShipmentMachine = StateMachine[ShipmentState, ShipmentEvent, *ShipmentTransition]

// NewShipmentMachine строит автомат отгрузки с переданными побочными эффектами.
func NewShipmentMachine(hooks ShipmentHooks) *ShipmentMachine {
	determinesReady := func(t *ShipmentTransition) bool {
		return t.Order.DetermineShipmentState(t.Shipment.ID) == ShipmentStateReady
	}
	after := func(fn func(context.Context, *ShipmentTransition) error) []func(context.Context, *ShipmentTransition) error {
		if fn == nil {
			return nil
		}
		return []func(context.Context, *ShipmentTransition) error{fn}
	}

	type edge = Transition[ShipmentState, ShipmentEvent, *ShipmentTransition]

	m := MustStateMachine(
		"shipment",
		shipmentStates,
		func(t *ShipmentTransition) ShipmentState { return t.Shipment.State },
		func(t *ShipmentTransition, s ShipmentState) { t.Shipment.State = s },
		edge{
			Event: ShipmentEventReady,
			From:  []ShipmentState{ShipmentStatePending},
			To:    ShipmentStateReady,
			Guard: determinesReady,
		},
		edge{
			Event: ShipmentEventPend,
			From:  []ShipmentState{ShipmentStateReady},
			To:    ShipmentStatePending,
		},
		edge{
			Event: ShipmentEventShip,
			From:  []ShipmentState{ShipmentStateReady, ShipmentStateCanceled},
			To:    ShipmentStateShipped,
			After: after(hooks.AfterShip),
		},
		edge{
			Event: ShipmentEventCancel,
			From:  []ShipmentState{ShipmentStatePending, ShipmentStateReady},
			To:    ShipmentStateCanceled,
			After: after(hooks.AfterCancel),
		},
		edge{
			Event: ShipmentEventResume,
			From:  []ShipmentState{ShipmentStateCanceled},
			To:    ShipmentStateReady,
			Guard: determinesReady,
			After: after(hooks.AfterResume),
		},
		edge{
			Event: ShipmentEventResume,
			From:  []ShipmentState{ShipmentStateCanceled},
			To:    ShipmentStatePending,
			After: after(hooks.AfterResume),
		},
	)
	if hooks.OnTransition != nil {
		m.OnTransition(hooks.OnTransition)
	}
	return m
}
