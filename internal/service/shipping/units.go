package shipping

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Units выполняет события единиц вне коробки: пополнение под заказ и возврат.
type Units struct {
	orders  domain.OrderRepository
	mutex   domain.OrderMutex
	updater Recalculator
	stock   *Stock
	machine *domain.InventoryUnitMachine
	s       settings
}

// NewUnits создаёт сервис.
func NewUnits(
	orders domain.OrderRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	stock *Stock,
	cfg domain.StoreConfig,
	opts ...Option,
) *Units {
	return &Units{
		orders:  orders,
		mutex:   mutex,
		updater: updater,
		stock:   stock,
		machine: domain.NewInventoryUnitMachine(cfg),
		s:       buildSettings("inventory_units", opts),
	}
}

// FillBackorders переводит в on_hand единицы отгрузки, ждавшие поступления,
// если склад их уже покрывает. Такие единицы списаны заранее, поэтому
// непокрытыми остаются столько, на сколько остаток ушёл в минус.
func (u *Units) FillBackorders(ctx context.Context, orderID, shipmentID string) ([]domain.InventoryUnit, error) {
	var filled []domain.InventoryUnit
	err := u.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := u.orders.Get(orderID)
		if err != nil {
			return err
		}
		order := stored.Clone()
		shipment, ok := order.Shipment(shipmentID)
		if !ok {
			return fmt.Errorf("shipment %s: %w", shipmentID, domain.ErrShipmentNotFound)
		}

		var (
			variants []string
			waiting  = map[string][]*domain.InventoryUnit{}
		)
		for _, unit := range order.UnitsForShipment(shipmentID) {
			if unit.State != domain.UnitStateBackordered {
				continue
			}
			variant, _ := order.VariantFor(*unit)
			if _, seen := waiting[variant.ID]; !seen {
				variants = append(variants, variant.ID)
			}
			waiting[variant.ID] = append(waiting[variant.ID], unit)
		}

		now := u.s.now()
		var events []domain.TimelineEvent
		for _, variantID := range variants {
			count, exists, err := u.stock.CountOnHand(shipment.StockLocationID, variantID)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			units := waiting[variantID]
			fillable := max(len(units)-max(-count, 0), 0)
			for _, unit := range units[:fillable] {
				if _, err := u.machine.Fire(ctx, unit, domain.UnitEventFillBackorder); err != nil {
					return fmt.Errorf("unit %s: %w", unit.ID, err)
				}
				unit.UpdatedAt = now
				filled = append(filled, *unit)
				events = append(events, domain.StateChange(order.ID, domain.TimelineInventoryUnit,
					unit.ID+" "+string(domain.UnitStateBackordered), unit.ID+" "+string(unit.State), now))
			}
		}
		if len(filled) == 0 {
			return nil
		}
		return u.save(ctx, &order, events)
	})
	if err != nil {
		u.s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    orderID,
			"shipment_id": shipmentID,
		}).Warn("fill backorders failed")
		return nil, err
	}

	if len(filled) > 0 {
		u.s.logger.WithFields(log.Fields{
			"order_id":    orderID,
			"shipment_id": shipmentID,
			"units":       len(filled),
		}).Info("backorders filled")
	}
	return filled, nil
}

// ReturnUnits переводит отгруженные единицы в returned и возвращает их на
// склад отгрузки после сохранения заказа.
func (u *Units) ReturnUnits(ctx context.Context, orderID string, unitIDs []string) ([]domain.InventoryUnit, error) {
	if len(unitIDs) == 0 {
		return nil, domain.ErrNoUnitsToReturn
	}

	var returned []domain.InventoryUnit
	err := u.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := u.orders.Get(orderID)
		if err != nil {
			return err
		}
		order := stored.Clone()
		now := u.s.now()

		var (
			ops    []stockOp
			events []domain.TimelineEvent
		)
		for _, id := range unitIDs {
			unit, ok := order.InventoryUnit(id)
			if !ok {
				return fmt.Errorf("unit %s: %w", id, domain.ErrUnitsFromOtherOrder)
			}
			if _, err := u.machine.Fire(ctx, unit, domain.UnitEventReturn); err != nil {
				return fmt.Errorf("unit %s: %w", id, err)
			}
			unit.UpdatedAt = now
			returned = append(returned, *unit)
			events = append(events, domain.StateChange(order.ID, domain.TimelineInventoryUnit,
				unit.ID+" "+string(domain.UnitStateShipped), unit.ID+" "+string(unit.State), now))

			if op, ok := u.restockReturned(&order, *unit); ok {
				ops = append(ops, op)
			}
		}

		if err := u.save(ctx, &order, events); err != nil {
			return err
		}
		for _, op := range ops {
			if err := op.apply(); err != nil {
				u.s.logger.WithError(err).WithFields(log.Fields{
					"order_id": order.ID,
					"movement": op.desc,
				}).Error("stock movement after return failed")
				return err
			}
		}
		return nil
	})
	if err != nil {
		u.s.logger.WithError(err).WithField("order_id", orderID).Warn("return units failed")
		return nil, err
	}

	u.s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"units":    len(returned),
	}).Info("units returned")
	return returned, nil
}

func (u *Units) save(ctx context.Context, order *domain.Order, events []domain.TimelineEvent) error {
	recalculated, err := u.updater.Recalculate(ctx, order)
	if err != nil {
		return err
	}
	if err := u.orders.Save(*order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	u.updater.RecordEvents(append(events, recalculated...))
	return nil
}

// restockReturned: единица возвращается на склад своей отгрузки.
func (u *Units) restockReturned(order *domain.Order, unit domain.InventoryUnit) (stockOp, bool) {
	shipment, ok := order.Shipment(unit.ShipmentID)
	if !ok || shipment.StockLocationID == "" {
		return stockOp{}, false
	}
	variant, _ := order.VariantFor(unit)
	location, originator := shipment.StockLocationID, "return:"+order.Number
	return stockOp{
		desc: fmt.Sprintf("restock returned %s of %s", unit.ID, variant.ID),
		apply: func() error {
			_, err := u.stock.Restock(location, variant.ID, 1, originator)
			return err
		},
	}, true
}
