package shipping

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// ShipRequest описывает физическую отправку единиц одного заказа.
type ShipRequest struct {
	OrderID          string
	UnitIDs          []string
	StockLocationID  string
	ShippingMethodID string
	AddressID        string
	Tracking         string
	ShippedAt        time.Time
}

// OrderShipping создаёт коробки и отмечает единицы отгруженными.
type OrderShipping struct {
	orders  domain.OrderRepository
	cartons domain.CartonRepository
	mutex   domain.OrderMutex
	updater Recalculator
	mailer  domain.ShipmentMailer
	units   *domain.InventoryUnitMachine
	s       settings
}

// NewOrderShipping создаёт сервис.
func NewOrderShipping(
	orders domain.OrderRepository,
	cartons domain.CartonRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	mailer domain.ShipmentMailer,
	cfg domain.StoreConfig,
	opts ...Option,
) *OrderShipping {
	return &OrderShipping{
		orders:  orders,
		cartons: cartons,
		mutex:   mutex,
		updater: updater,
		mailer:  mailer,
		units:   domain.NewInventoryUnitMachine(cfg),
		s:       buildSettings("order_shipping", opts),
	}
}

// ShipUnits создаёт коробку с единицами заказа, переводит их в shipped,
// пересчитывает shipment_state заказа, отмечает склад заказа исполненным и
// ставит ровно одно письмо об отгрузке. Коробка, заказ и письмо сохраняются
// одной записью.
func (s *OrderShipping) ShipUnits(ctx context.Context, req ShipRequest) (domain.Carton, error) {
	if len(req.UnitIDs) == 0 {
		return domain.Carton{}, domain.ErrNoUnitsToShip
	}

	var carton domain.Carton
	err := s.mutex.WithLock(ctx, req.OrderID, func(ctx context.Context) error {
		stored, err := s.orders.Get(req.OrderID)
		if err != nil {
			return err
		}
		for _, id := range req.UnitIDs {
			if _, ok := stored.InventoryUnit(id); !ok {
				return fmt.Errorf("unit %s: %w", id, domain.ErrUnitsFromOtherOrder)
			}
		}

		order := stored.Clone()
		now := s.s.now()
		shippedAt := req.ShippedAt
		if shippedAt.IsZero() {
			shippedAt = now
		}
		carton = domain.Carton{
			ID:               s.s.newID(),
			Number:           s.s.newNumber(),
			OrderID:          order.ID,
			StockLocationID:  req.StockLocationID,
			ShippingMethodID: req.ShippingMethodID,
			AddressID:        req.AddressID,
			Tracking:         req.Tracking,
			ShippedAt:        shippedAt,
			CreatedAt:        now,
		}

		touched := make(map[string]bool)
		var shipmentOrder []string
		for _, id := range req.UnitIDs {
			unit, _ := order.InventoryUnit(id)
			if _, err := s.units.Fire(ctx, unit, domain.UnitEventShip); err != nil {
				return fmt.Errorf("unit %s: %w", id, err)
			}
			unit.CartonID = carton.ID
			unit.UpdatedAt = now
			carton.Units = append(carton.Units, domain.CartonUnit{OrderID: order.ID, InventoryUnitID: id})

			if unit.ShipmentID != "" && !touched[unit.ShipmentID] {
				touched[unit.ShipmentID] = true
				shipmentOrder = append(shipmentOrder, unit.ShipmentID)
			}
		}
		if carton.StockLocationID == "" && len(shipmentOrder) > 0 {
			if shipment, ok := order.Shipment(shipmentOrder[0]); ok {
				carton.StockLocationID = shipment.StockLocationID
			}
		}

		events := s.shipCompletedShipments(&order, shipmentOrder, carton)

		recalculated, err := s.updater.Recalculate(ctx, &order)
		if err != nil {
			return err
		}
		fulfillStockLocation(&order, carton.StockLocationID)

		shippedEmail, err := s.mailer.ShippedMessage(carton, false)
		if err != nil {
			return fmt.Errorf("carton %s email: %w", carton.Number, err)
		}
		if err := s.cartons.Create(carton, order, shippedEmail); err != nil {
			return fmt.Errorf("persist carton %s: %w", carton.Number, err)
		}
		s.updater.RecordEvents(append(events, recalculated...))
		return nil
	})
	if err != nil {
		s.s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("ship units failed")
		return domain.Carton{}, err
	}

	s.s.metrics.RecordOutboxEvent()
	s.s.metrics.RecordCartonShipped()
	s.s.logger.WithFields(log.Fields{
		"order_id":  req.OrderID,
		"carton_id": carton.ID,
		"number":    carton.Number,
		"units":     len(carton.Units),
	}).Info("carton shipped")
	return carton, nil
}

// ShipShipment отгружает одной коробкой все единицы отгрузки, ещё не покинувшие склад.
func (s *OrderShipping) ShipShipment(ctx context.Context, orderID, shipmentID, tracking string) (domain.Carton, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Carton{}, err
	}
	shipment, ok := order.Shipment(shipmentID)
	if !ok {
		return domain.Carton{}, fmt.Errorf("shipment %s: %w", shipmentID, domain.ErrShipmentNotFound)
	}

	var unitIDs []string
	for _, unit := range order.UnitsForShipment(shipmentID) {
		if unit.PreShipment() {
			unitIDs = append(unitIDs, unit.ID)
		}
	}
	return s.ShipUnits(ctx, ShipRequest{
		OrderID:          orderID,
		UnitIDs:          unitIDs,
		StockLocationID:  shipment.StockLocationID,
		ShippingMethodID: shipment.ShippingMethodID,
		AddressID:        shipment.AddressID,
		Tracking:         tracking,
	})
}

// Resend повторно ставит письмо об отгрузке коробки.
func (s *OrderShipping) Resend(ctx context.Context, cartonID string) error {
	carton, err := s.cartons.Get(cartonID)
	if err != nil {
		return err
	}
	if err := s.mailer.ShippedEmail(ctx, carton, true); err != nil {
		return fmt.Errorf("resend carton %s: %w", carton.Number, err)
	}
	s.s.logger.WithField("carton_id", carton.ID).Info("shipped email resent")
	return nil
}

// shipCompletedShipments переводит в shipped отгрузки, у которых не осталось
// единиц на складе.
func (s *OrderShipping) shipCompletedShipments(order *domain.Order, shipmentIDs []string, carton domain.Carton) []domain.TimelineEvent {
	var events []domain.TimelineEvent
	for _, id := range shipmentIDs {
		shipment, ok := order.Shipment(id)
		if !ok || shipment.State == domain.ShipmentStateShipped {
			continue
		}
		done := true
		for _, unit := range order.UnitsForShipment(id) {
			if unit.PreShipment() {
				done = false
				break
			}
		}
		if !done {
			continue
		}

		previous := shipment.State
		shipment.State = domain.ShipmentStateShipped
		shipment.ShippedAt = carton.ShippedAt
		if carton.Tracking != "" {
			shipment.Tracking = carton.Tracking
		}
		events = append(events, domain.StateChange(order.ID, domain.TimelineShipment,
			shipment.Number+" "+string(previous), shipment.Number+" "+string(shipment.State), carton.CreatedAt))
	}
	return events
}

func fulfillStockLocation(order *domain.Order, locationID string) {
	if locationID == "" {
		return
	}
	for i := range order.StockLocations {
		if order.StockLocations[i].StockLocationID == locationID {
			order.StockLocations[i].Fulfilled = true
		}
	}
}
