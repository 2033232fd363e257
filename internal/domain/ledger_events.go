package domain

import (
	"encoding/json"
	"fmt"
)

// LedgerEvent: типизированный payload события outbox.
type LedgerEvent interface {
	EventType() string
	// Aggregate возвращает тип и идентификатор агрегата события.
	Aggregate() (kind, id string)
	// OrderKey: заказ события. События одного заказа идут в одну партицию.
	OrderKey() string
}

// CartonShippedEvent: письмо об отгрузке коробки.
type CartonShippedEvent struct {
	CartonID string `json:"carton_id"`
	OrderID  string `json:"order_id"`
	Resend   bool   `json:"resend"`
}

func (CartonShippedEvent) EventType() string             { return EventCartonShipped }
func (e CartonShippedEvent) Aggregate() (string, string) { return AggregateCarton, e.CartonID }
func (e CartonShippedEvent) OrderKey() string            { return e.OrderID }

// CartonCapturedEvent: оплата коробки захвачена.
type CartonCapturedEvent struct {
	CartonID        string   `json:"carton_id"`
	OrderID         string   `json:"order_id"`
	CartonCaptureID string   `json:"carton_capture_id"`
	OrderIDs        []string `json:"order_ids"`
	Total           string   `json:"total"`
}

func (CartonCapturedEvent) EventType() string             { return EventCartonCaptured }
func (e CartonCapturedEvent) Aggregate() (string, string) { return AggregateCarton, e.CartonID }
func (e CartonCapturedEvent) OrderKey() string            { return e.OrderID }

// OrderShortShippedEvent: часть единиц заказа отменена складом.
type OrderShortShippedEvent struct {
	OrderID   string   `json:"order_id"`
	UnitIDs   []string `json:"unit_ids"`
	CreatedBy string   `json:"created_by"`
	Total     string   `json:"total"`
}

func (OrderShortShippedEvent) EventType() string             { return EventOrderShortShipped }
func (e OrderShortShippedEvent) Aggregate() (string, string) { return AggregateOrder, e.OrderID }
func (e OrderShortShippedEvent) OrderKey() string            { return e.OrderID }

// PaymentCaptureShortfallEvent: pending-платежей не хватило на захват коробки.
type PaymentCaptureShortfallEvent struct {
	OrderID         string `json:"order_id"`
	CartonID        string `json:"carton_id"`
	CartonCaptureID string `json:"carton_capture_id"`
	Shortfall       string `json:"shortfall"`
	Currency        string `json:"currency"`
}

func (PaymentCaptureShortfallEvent) EventType() string { return EventPaymentCaptureShortage }
func (e PaymentCaptureShortfallEvent) Aggregate() (string, string) {
	return AggregateOrder, e.OrderID
}
func (e PaymentCaptureShortfallEvent) OrderKey() string { return e.OrderID }

// DecodeLedgerEvent разбирает payload по типу события.
func DecodeLedgerEvent(eventType string, payload []byte) (LedgerEvent, error) {
	var event LedgerEvent
	switch eventType {
	case EventCartonShipped:
		event = &CartonShippedEvent{}
	case EventCartonCaptured:
		event = &CartonCapturedEvent{}
	case EventOrderShortShipped:
		event = &OrderShortShippedEvent{}
	case EventPaymentCaptureShortage:
		event = &PaymentCaptureShortfallEvent{}
	default:
		return nil, fmt.Errorf("unknown ledger event %q", eventType)
	}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return event, nil
}
