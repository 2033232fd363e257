package shipping

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// stockOp: отложенное движение склада, выполняемое после сохранения заказа.
type stockOp struct {
	apply func() error
	desc  string
}

// Shipments выполняет переходы автомата отгрузки с побочными эффектами на складе.
type Shipments struct {
	orders  domain.OrderRepository
	mutex   domain.OrderMutex
	updater Recalculator
	stock   *Stock
	s       settings
}

// NewShipments создаёт сервис.
func NewShipments(
	orders domain.OrderRepository,
	mutex domain.OrderMutex,
	updater Recalculator,
	stock *Stock,
	opts ...Option,
) *Shipments {
	return &Shipments{
		orders:  orders,
		mutex:   mutex,
		updater: updater,
		stock:   stock,
		s:       buildSettings("shipments", opts),
	}
}

// CancelShipment отменяет отгрузку и возвращает её манифест на склад.
func (s *Shipments) CancelShipment(ctx context.Context, orderID, shipmentID string) (domain.Shipment, error) {
	return s.Fire(ctx, orderID, shipmentID, domain.ShipmentEventCancel)
}

// ResumeShipment возобновляет отменённую отгрузку и снова списывает манифест.
func (s *Shipments) ResumeShipment(ctx context.Context, orderID, shipmentID string) (domain.Shipment, error) {
	return s.Fire(ctx, orderID, shipmentID, domain.ShipmentEventResume)
}

// Fire применяет событие к отгрузке заказа под блокировкой, пересчитывает и
// сохраняет заказ. Движения склада выполняются после сохранения.
func (s *Shipments) Fire(ctx context.Context, orderID, shipmentID string, event domain.ShipmentEvent) (domain.Shipment, error) {
	var result domain.Shipment
	err := s.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := s.orders.Get(orderID)
		if err != nil {
			return err
		}
		order := stored.Clone()
		shipment, ok := order.Shipment(shipmentID)
		if !ok {
			return fmt.Errorf("shipment %s: %w", shipmentID, domain.ErrShipmentNotFound)
		}

		var (
			ops    []stockOp
			events []domain.TimelineEvent
		)
		machine := domain.NewShipmentMachine(domain.ShipmentHooks{
			AfterCancel: func(_ context.Context, t *domain.ShipmentTransition) error {
				ops = append(ops, s.restockManifest(t)...)
				return nil
			},
			AfterResume: func(_ context.Context, t *domain.ShipmentTransition) error {
				ops = append(ops, s.unstockManifest(t)...)
				return nil
			},
			OnTransition: func(_ context.Context, t *domain.ShipmentTransition, _ domain.ShipmentEvent, from, to domain.ShipmentState) error {
				events = append(events, domain.StateChange(t.Order.ID, domain.TimelineShipment,
					t.Shipment.Number+" "+string(from), t.Shipment.Number+" "+string(to), s.s.now()))
				return nil
			},
		})

		if _, err := machine.Fire(ctx, &domain.ShipmentTransition{Order: &order, Shipment: shipment}, event); err != nil {
			return fmt.Errorf("shipment %s: %w", shipmentID, err)
		}

		recalculated, err := s.updater.Recalculate(ctx, &order)
		if err != nil {
			return err
		}
		if err := s.orders.Save(order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
		s.updater.RecordEvents(append(events, recalculated...))

		for _, op := range ops {
			if err := op.apply(); err != nil {
				s.s.logger.WithError(err).WithFields(log.Fields{
					"order_id":    order.ID,
					"shipment_id": shipmentID,
					"movement":    op.desc,
				}).Error("stock movement after shipment transition failed")
				return err
			}
		}

		updated, _ := order.Shipment(shipmentID)
		result = *updated
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}

	s.s.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"shipment_id": shipmentID,
		"event":       event,
		"state":       result.State,
	}).Info("shipment transitioned")
	return result, nil
}

// restockManifest возвращает на склад единицы on_hand и под заказ.
func (s *Shipments) restockManifest(t *domain.ShipmentTransition) []stockOp {
	location := t.Shipment.StockLocationID
	originator := "shipment:" + t.Shipment.Number

	var ops []stockOp
	for _, item := range t.Order.Manifest(t.Shipment.ID) {
		variantID := item.Variant.ID
		if n := item.States[domain.UnitStateOnHand]; n > 0 {
			ops = append(ops, stockOp{
				desc: fmt.Sprintf("restock %d of %s", n, variantID),
				apply: func() error {
					_, err := s.stock.Restock(location, variantID, n, originator)
					return err
				},
			})
		}
		if n := item.States[domain.UnitStateBackordered]; n > 0 {
			ops = append(ops, stockOp{
				desc: fmt.Sprintf("restock backordered %d of %s", n, variantID),
				apply: func() error {
					_, err := s.stock.RestockBackordered(location, variantID, n)
					return err
				},
			})
		}
	}
	return ops
}

// unstockManifest снова списывает единицы отгрузки, ещё не покинувшие склад.
func (s *Shipments) unstockManifest(t *domain.ShipmentTransition) []stockOp {
	location := t.Shipment.StockLocationID
	originator := "shipment:" + t.Shipment.Number

	var ops []stockOp
	for _, item := range t.Order.Manifest(t.Shipment.ID) {
		variantID := item.Variant.ID
		n := item.States[domain.UnitStateOnHand] + item.States[domain.UnitStateBackordered]
		if n == 0 {
			continue
		}
		ops = append(ops, stockOp{
			desc: fmt.Sprintf("unstock %d of %s", n, variantID),
			apply: func() error {
				_, err := s.stock.Unstock(location, variantID, n, originator)
				return err
			},
		})
	}
	return ops
}
