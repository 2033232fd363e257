package updater

import (
	"context"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// UpdateOrderShipmentState выводит shipment_state заказа по единицам и отгрузкам.
type UpdateOrderShipmentState struct{}

func (UpdateOrderShipmentState) Name() string { return "update_order_shipment_state" }

func (UpdateOrderShipmentState) Apply(_ context.Context, run *Run) error {
	order := run.Order
	previous := order.ShipmentState
	order.ShipmentState = DetermineOrderShipmentState(order)
	run.Record(domain.TimelineShipmentState, string(previous), string(order.ShipmentState))
	return nil
}

// DetermineOrderShipmentState: backorder важнее всего, затем отгруженность
// неотменённых единиц, затем состояния самих отгрузок. Отменённые единицы
// не мешают заказу стать shipped, возвращённые считаются отгруженными.
// Если отменены все единицы, решают состояния отгрузок.
func DetermineOrderShipmentState(order *domain.Order) domain.ShipmentState {
	if order.Backordered() {
		return domain.ShipmentStateBackorder
	}

	var active, shipped int
	for _, unit := range order.InventoryUnits {
		if unit.State == domain.UnitStateCanceled {
			continue
		}
		active++
		if unit.State == domain.UnitStateShipped || unit.State == domain.UnitStateReturned {
			shipped++
		}
	}
	switch {
	case active > 0 && shipped == active:
		return domain.ShipmentStateShipped
	case shipped > 0:
		return domain.ShipmentStatePartial
	}

	states := map[domain.ShipmentState]struct{}{}
	var only domain.ShipmentState
	for _, shipment := range order.Shipments {
		states[shipment.State] = struct{}{}
		only = shipment.State
	}
	switch len(states) {
	case 0:
		return domain.ShipmentStateNone
	case 1:
		return only
	default:
		return domain.ShipmentStatePartial
	}
}
