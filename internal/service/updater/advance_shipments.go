package updater

import (
	"context"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// AdvanceShipments выставляет каждой отгрузке завершённого заказа вычисленное
// состояние. Отменённые отгрузки не трогаются: выйти из canceled можно только
// через resume, который возвращает товар на склад.
type AdvanceShipments struct{}

func (AdvanceShipments) Name() string { return "advance_shipments" }

func (AdvanceShipments) Apply(_ context.Context, run *Run) error {
	order := run.Order
	if !order.Completed() {
		return nil
	}

	for i := range order.Shipments {
		shipment := &order.Shipments[i]
		if shipment.State == domain.ShipmentStateCanceled && !order.Canceled() {
			continue
		}
		next := order.DetermineShipmentState(shipment.ID)
		if next == shipment.State {
			continue
		}
		run.Record(domain.TimelineShipment, shipment.Number+" "+string(shipment.State), shipment.Number+" "+string(next))
		shipment.State = next
	}
	return nil
}
