package domain

import (
	"fmt"
	"time"
)

// TimelineEvent описывает событие в жизненном цикле заказа. Seq назначает
// хранилище при записи.
type TimelineEvent struct {
	Seq      int64
	OrderID  string
	Type     string
	Reason   string
	Previous string
	Next     string
	Occurred time.Time
}

// Типы событий timeline.
const (
	TimelinePaymentState  = "payment_state"
	TimelineShipmentState = "shipment_state"
	TimelineShipment      = "shipment"
	TimelineInventoryUnit = "inventory_unit"
	TimelineShortShip     = "short_ship"
	TimelineCapture       = "capture"
	TimelinePromotion     = "promotion"
)

// Validate проверяет, что событие привязано к заказу и имеет тип.
func (e TimelineEvent) Validate() error {
	if e.OrderID == "" || e.Type == "" {
		return fmt.Errorf("%w: order=%q type=%q", ErrTimelineEventInvalid, e.OrderID, e.Type)
	}
	return nil
}

// StateChange строит событие смены состояния.
func StateChange(orderID, name, previous, next string, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  orderID,
		Type:     name,
		Reason:   previous + " -> " + next,
		Previous: previous,
		Next:     next,
		Occurred: at,
	}
}
