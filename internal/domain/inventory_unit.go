package domain

import "time"

// InventoryUnitState: состояние одной единицы товара.
type InventoryUnitState string

const (
	UnitStateOnHand      InventoryUnitState = "on_hand"
	UnitStateBackordered InventoryUnitState = "backordered"
	UnitStateShipped     InventoryUnitState = "shipped"
	UnitStateReturned    InventoryUnitState = "returned"
	UnitStateCanceled    InventoryUnitState = "canceled"
)

// InventoryUnitEvent: события автомата единицы товара.
type InventoryUnitEvent string

const (
	UnitEventFillBackorder InventoryUnitEvent = "fill_backorder"
	UnitEventShip          InventoryUnitEvent = "ship"
	UnitEventReturn        InventoryUnitEvent = "return"
	UnitEventCancel        InventoryUnitEvent = "cancel"
)

var inventoryUnitStates = []InventoryUnitState{
	UnitStateOnHand,
	UnitStateBackordered,
	UnitStateShipped,
	UnitStateReturned,
	UnitStateCanceled,
}

// InventoryUnit: одна единица количества позиции.
type InventoryUnit struct {
	ID         string
	LineItemID string
	VariantID  string
	ShipmentID string
	CartonID   string
	State      InventoryUnitState
	// ExchangeOrigin: единица создана обменом по возврату и не делит суммы позиции.
	ExchangeOrigin bool
	Pending        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PreShipment: единица ещё не покинула склад.
func (u InventoryUnit) PreShipment() bool {
	return u.State == UnitStateOnHand || u.State == UnitStateBackordered
}

// InventoryUnitMachine: автомат единицы товара, параметризованный настройками магазина.
type InventoryUnitMachine = StateMachine[InventoryUnitState, InventoryUnitEvent, *InventoryUnit]

// NewInventoryUnitMachine строит автомат. Отгрузка из backordered разрешена
// только при AllowBackorderShipping.
func NewInventoryUnitMachine(cfg StoreConfig) *InventoryUnitMachine {
	allowShip := func(u *InventoryUnit) bool {
		return cfg.AllowBackorderShipping || u.State == UnitStateOnHand
	}

	return MustStateMachine(
		"inventory_unit",
		inventoryUnitStates,
		func(u *InventoryUnit) InventoryUnitState { return u.State },
		func(u *InventoryUnit, s InventoryUnitState) { u.State = s },
		Transition[InventoryUnitState, InventoryUnitEvent, *InventoryUnit]{
			Event: UnitEventFillBackorder,
			From:  []InventoryUnitState{UnitStateBackordered},
			To:    UnitStateOnHand,
		},
		Transition[InventoryUnitState, InventoryUnitEvent, *InventoryUnit]{
			Event: UnitEventShip,
			From:  []InventoryUnitState{UnitStateOnHand, UnitStateBackordered},
			To:    UnitStateShipped,
			Guard: allowShip,
		},
		Transition[InventoryUnitState, InventoryUnitEvent, *InventoryUnit]{
			Event: UnitEventReturn,
			From:  []InventoryUnitState{UnitStateShipped},
			To:    UnitStateReturned,
		},
		Transition[InventoryUnitState, InventoryUnitEvent, *InventoryUnit]{
			Event: UnitEventCancel,
			From:  []InventoryUnitState{UnitStateOnHand, UnitStateBackordered},
			To:    UnitStateCanceled,
		},
	)
}
