package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState описывает шаг checkout и пост-checkout жизненный цикл заказа.
type OrderState string

const (
	OrderStateCart           OrderState = "cart"
	OrderStateAddress        OrderState = "address"
	OrderStateDelivery       OrderState = "delivery"
	OrderStatePayment        OrderState = "payment"
	OrderStateConfirm        OrderState = "confirm"
	OrderStateComplete       OrderState = "complete"
	OrderStateCanceled       OrderState = "canceled"
	OrderStateAwaitingReturn OrderState = "awaiting_return"
	OrderStateReturned       OrderState = "returned"
)

// PaymentState: денормализованное состояние оплаты заказа.
type PaymentState string

const (
	PaymentStateBalanceDue PaymentState = "balance_due"
	PaymentStatePaid       PaymentState = "paid"
	PaymentStateCreditOwed PaymentState = "credit_owed"
	PaymentStateFailed     PaymentState = "failed"
	PaymentStateVoid       PaymentState = "void"
	PaymentStatePending    PaymentState = "pending"
)

// ShipmentState: денормализованное состояние доставки заказа. Пустая строка означает nil.
type ShipmentState string

const (
	ShipmentStateNone      ShipmentState = ""
	ShipmentStatePending   ShipmentState = "pending"
	ShipmentStateReady     ShipmentState = "ready"
	ShipmentStatePartial   ShipmentState = "partial"
	ShipmentStateShipped   ShipmentState = "shipped"
	ShipmentStateBackorder ShipmentState = "backorder"
	ShipmentStateCanceled  ShipmentState = "canceled"
)

// Variant: вариант товара. Удалённые варианты (DeletedAt != 0) остаются доступны
// для исторических единиц товара.
type Variant struct {
	ID            string
	SKU           string
	ProductID     string
	Promotionable bool
	DeletedAt     time.Time
}

// Deleted сообщает, помечен ли вариант удалённым в каталоге.
func (v Variant) Deleted() bool {
	return !v.DeletedAt.IsZero()
}

// LineItem: позиция заказа. Цена хранится за единицу, итоги по корректировкам — за всю позицию.
type LineItem struct {
	ID                 string
	Variant            Variant
	Price              decimal.Decimal
	Quantity           int
	Currency           string
	AdjustmentTotal    decimal.Decimal
	PromoTotal         decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	CreatedAt          time.Time
}

// Amount: price * quantity без корректировок.
func (li LineItem) Amount() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// DiscountedAmount: сумма позиции с учётом промо.
func (li LineItem) DiscountedAmount() decimal.Decimal {
	return li.Amount().Add(li.PromoTotal)
}

// Total: сумма позиции вместе со всеми корректировками.
func (li LineItem) Total() decimal.Decimal {
	return li.Amount().Add(li.AdjustmentTotal)
}

// OrderPromotion связывает заказ с применённой промо-акцией и, возможно, кодом.
type OrderPromotion struct {
	PromotionID     string
	PromotionCodeID string
}

// OrderStockLocation фиксирует, с какого склада исполняется вариант заказа.
type OrderStockLocation struct {
	VariantID       string
	StockLocationID string
	Quantity        int
	Fulfilled       bool
}

// Order: корень агрегата. Все дочерние сущности ссылаются друг на друга по ID.
type Order struct {
	ID       string
	Number   string
	UserID   string
	Email    string
	State    OrderState
	Currency string

	PaymentState  PaymentState
	ShipmentState ShipmentState

	ItemTotal          decimal.Decimal
	ShipmentTotal      decimal.Decimal
	AdjustmentTotal    decimal.Decimal
	PromoTotal         decimal.Decimal
	IncludedTaxTotal   decimal.Decimal
	AdditionalTaxTotal decimal.Decimal
	PaymentTotal       decimal.Decimal
	Total              decimal.Decimal
	ItemCount          int

	LineItems      []LineItem
	InventoryUnits []InventoryUnit
	Shipments      []Shipment
	Payments       []Payment
	Adjustments    []Adjustment
	UnitCancels    []UnitCancel
	UnitCaptures   []InventoryUnitCapture
	Promotions     []OrderPromotion
	StockLocations []OrderStockLocation

	Version     int64
	CompletedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) Validate() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	for _, item := range o.LineItems {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// Clone возвращает копию агрегата, не разделяющую слайсы с оригиналом.
func (o Order) Clone() Order {
	o.LineItems = slices.Clone(o.LineItems)
	o.InventoryUnits = slices.Clone(o.InventoryUnits)
	o.Shipments = slices.Clone(o.Shipments)
	o.Payments = slices.Clone(o.Payments)
	o.Adjustments = slices.Clone(o.Adjustments)
	o.UnitCancels = slices.Clone(o.UnitCancels)
	o.UnitCaptures = slices.Clone(o.UnitCaptures)
	o.Promotions = slices.Clone(o.Promotions)
	o.StockLocations = slices.Clone(o.StockLocations)
	return o
}

// Completed: заказ прошёл checkout.
func (o *Order) Completed() bool {
	return !o.CompletedAt.IsZero()
}

// Canceled: заказ отменён целиком.
func (o *Order) Canceled() bool {
	return o.State == OrderStateCanceled
}

// Paid: оплата закрыта (в том числе с переплатой).
func (o *Order) Paid() bool {
	return o.PaymentState == PaymentStatePaid || o.PaymentState == PaymentStateCreditOwed
}

// CanShip: заказ в состоянии, из которого разрешена отгрузка.
func (o *Order) CanShip() bool {
	switch o.State {
	case OrderStateComplete, OrderStateAwaitingReturn, OrderStateReturned:
		return true
	default:
		return false
	}
}

// Quantity: суммарное количество единиц по позициям.
func (o *Order) Quantity() int {
	total := 0
	for _, item := range o.LineItems {
		total += item.Quantity
	}
	return total
}

// Backordered: есть хотя бы одна единица под заказ.
func (o *Order) Backordered() bool {
	for _, unit := range o.InventoryUnits {
		if unit.State == UnitStateBackordered {
			return true
		}
	}
	return false
}

// LineItem возвращает указатель на позицию внутри агрегата.
func (o *Order) LineItem(id string) (*LineItem, bool) {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i], true
		}
	}
	return nil, false
}

// InventoryUnit возвращает указатель на единицу товара внутри агрегата.
func (o *Order) InventoryUnit(id string) (*InventoryUnit, bool) {
	for i := range o.InventoryUnits {
		if o.InventoryUnits[i].ID == id {
			return &o.InventoryUnits[i], true
		}
	}
	return nil, false
}

// Shipment возвращает указатель на отгрузку внутри агрегата.
func (o *Order) Shipment(id string) (*Shipment, bool) {
	for i := range o.Shipments {
		if o.Shipments[i].ID == id {
			return &o.Shipments[i], true
		}
	}
	return nil, false
}

// Payment возвращает указатель на платёж внутри агрегата.
func (o *Order) Payment(id string) (*Payment, bool) {
	for i := range o.Payments {
		if o.Payments[i].ID == id {
			return &o.Payments[i], true
		}
	}
	return nil, false
}

// VariantFor возвращает вариант единицы товара, не фильтруя удалённые.
func (o *Order) VariantFor(unit InventoryUnit) (Variant, bool) {
	item, ok := o.LineItem(unit.LineItemID)
	if !ok {
		return Variant{}, false
	}
	return item.Variant, true
}

// UnitsForLineItem возвращает единицы позиции в порядке добавления.
func (o *Order) UnitsForLineItem(lineItemID string) []*InventoryUnit {
	var units []*InventoryUnit
	for i := range o.InventoryUnits {
		if o.InventoryUnits[i].LineItemID == lineItemID {
			units = append(units, &o.InventoryUnits[i])
		}
	}
	return units
}

// UnitsForShipment возвращает единицы, привязанные к отгрузке.
func (o *Order) UnitsForShipment(shipmentID string) []*InventoryUnit {
	var units []*InventoryUnit
	for i := range o.InventoryUnits {
		if o.InventoryUnits[i].ShipmentID == shipmentID {
			units = append(units, &o.InventoryUnits[i])
		}
	}
	return units
}

// AdjustmentsFor возвращает корректировки указанного объекта.
func (o *Order) AdjustmentsFor(ref AdjustableRef) []*Adjustment {
	var adjustments []*Adjustment
	for i := range o.Adjustments {
		if o.Adjustments[i].Adjustable == ref {
			adjustments = append(adjustments, &o.Adjustments[i])
		}
	}
	return adjustments
}

// EligibleOrderAdjustmentTotal: сумма действующих корректировок уровня заказа.
func (o *Order) EligibleOrderAdjustmentTotal() decimal.Decimal {
	total := decimal.Zero
	for _, adj := range o.Adjustments {
		if adj.Adjustable.Kind == AdjustableOrder && adj.Eligible {
			total = total.Add(adj.Amount)
		}
	}
	return total
}

// UnitCancelFor возвращает отмену единицы, если она есть.
func (o *Order) UnitCancelFor(unitID string) (*UnitCancel, bool) {
	for i := range o.UnitCancels {
		if o.UnitCancels[i].InventoryUnitID == unitID {
			return &o.UnitCancels[i], true
		}
	}
	return nil, false
}

// UnitCaptureFor возвращает захват единицы, если он есть.
func (o *Order) UnitCaptureFor(unitID string) (*InventoryUnitCapture, bool) {
	for i := range o.UnitCaptures {
		if o.UnitCaptures[i].InventoryUnitID == unitID {
			return &o.UnitCaptures[i], true
		}
	}
	return nil, false
}

// UnitProcessed: у единицы уже есть capture или cancel.
func (o *Order) UnitProcessed(unitID string) bool {
	if _, ok := o.UnitCaptureFor(unitID); ok {
		return true
	}
	_, ok := o.UnitCancelFor(unitID)
	return ok
}

// HasPromotion проверяет, привязана ли промо-акция (с кодом или без) к заказу.
func (o *Order) HasPromotion(promotionID, codeID string) bool {
	for _, p := range o.Promotions {
		if p.PromotionID == promotionID && p.PromotionCodeID == codeID {
			return true
		}
	}
	return false
}

// AllUnitsShippedOrCanceled: все единицы заказа отгружены или отменены.
func (o *Order) AllUnitsShippedOrCanceled() bool {
	for _, unit := range o.InventoryUnits {
		if unit.State != UnitStateShipped && unit.State != UnitStateCanceled {
			return false
		}
	}
	return true
}
