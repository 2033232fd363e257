package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustableKind: закрытый набор объектов, к которым применяются корректировки.
type AdjustableKind string

const (
	AdjustableLineItem AdjustableKind = "line_item"
	AdjustableShipment AdjustableKind = "shipment"
	AdjustableOrder    AdjustableKind = "order"
)

// AdjustableRef ссылается на позицию, отгрузку или сам заказ.
type AdjustableRef struct {
	Kind AdjustableKind
	ID   string
}

// LineItemRef: ссылка на позицию.
func LineItemRef(id string) AdjustableRef {
	return AdjustableRef{Kind: AdjustableLineItem, ID: id}
}

// ShipmentRef: ссылка на отгрузку.
func ShipmentRef(id string) AdjustableRef {
	return AdjustableRef{Kind: AdjustableShipment, ID: id}
}

// OrderRef: ссылка на заказ.
func OrderRef(id string) AdjustableRef {
	return AdjustableRef{Kind: AdjustableOrder, ID: id}
}

// SourceKind: закрытый набор источников корректировок.
type SourceKind string

const (
	SourcePromotionAction SourceKind = "promotion_action"
	SourceUnitCancel      SourceKind = "unit_cancel"
	SourceTaxRate         SourceKind = "tax_rate"
	SourceManual          SourceKind = "manual"
)

// AdjustmentSource указывает, что породило корректировку.
type AdjustmentSource struct {
	Kind SourceKind
	ID   string
}

// Adjustment: корректировка суммы объекта заказа.
type Adjustment struct {
	ID         string
	Adjustable AdjustableRef
	Source     AdjustmentSource
	// PromotionID и PromotionCodeID заполнены для промо-корректировок.
	PromotionID     string
	PromotionCodeID string
	Amount          decimal.Decimal
	Label           string
	Eligible        bool
	// Finalized: закрытая корректировка, сумма больше не пересчитывается.
	Finalized bool
	// Included: налог уже входит в цену и не меняет итог.
	Included  bool
	CreatedAt time.Time
}

// Promotion: корректировка от промо-акции.
func (a Adjustment) Promotion() bool {
	return a.Source.Kind == SourcePromotionAction
}

// Tax: налоговая корректировка.
func (a Adjustment) Tax() bool {
	return a.Source.Kind == SourceTaxRate
}

// TaxRate: налоговая ставка. Amount — доля (0.05 = 5%).
type TaxRate struct {
	ID              string
	Name            string
	Amount          decimal.Decimal
	IncludedInPrice bool
}
