package promotion

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

func (e *Engine) perform(order *domain.Order, promotion domain.Promotion, action domain.PromotionAction, lineItemID string, code *domain.PromotionCode) (bool, error) {
	switch action.Type {
	case domain.ActionCreateAdjustment:
		ref := domain.OrderRef(order.ID)
		if hasActionAdjustment(order, ref, action.ID) {
			return false, nil
		}
		amount, err := e.computeAmount(order, promotion, action, ref)
		if err != nil {
			return false, err
		}
		e.addAdjustment(order, ref, promotion, action, code, amount)
		return true, nil

	case domain.ActionCreateItemAdjustments, domain.ActionCreateQuantityAdjustment:
		taken := false
		for _, item := range order.LineItems {
			if lineItemID != "" && item.ID != lineItemID {
				continue
			}
			ref := domain.LineItemRef(item.ID)
			if hasActionAdjustment(order, ref, action.ID) {
				continue
			}
			actionable, err := e.LineItemActionable(order, promotion, item)
			if err != nil {
				return false, err
			}
			if !actionable {
				continue
			}
			amount, err := e.computeAmount(order, promotion, action, ref)
			if err != nil {
				return false, err
			}
			if amount.IsZero() {
				continue
			}
			e.addAdjustment(order, ref, promotion, action, code, amount)
			taken = true
		}
		return taken, nil

	case domain.ActionFreeShipping:
		taken := false
		for _, shipment := range order.Shipments {
			ref := domain.ShipmentRef(shipment.ID)
			if hasActionAdjustment(order, ref, action.ID) {
				continue
			}
			amount, err := e.computeAmount(order, promotion, action, ref)
			if err != nil {
				return false, err
			}
			e.addAdjustment(order, ref, promotion, action, code, amount)
			taken = true
		}
		return taken, nil

	default:
		return false, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// computeAmount возвращает отрицательную сумму корректировки действия для объекта.
func (e *Engine) computeAmount(order *domain.Order, promotion domain.Promotion, action domain.PromotionAction, ref domain.AdjustableRef) (decimal.Decimal, error) {
	switch action.Type {
	case domain.ActionCreateAdjustment:
		// Скидка на заказ не больше суммы товаров и доставки.
		limit := itemTotal(order)
		for _, shipment := range order.Shipments {
			limit = limit.Add(shipment.Cost)
		}
		value, err := Compute(action.Calculator, itemTotal(order))
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.Min(limit, value.Abs()).Neg(), nil

	case domain.ActionCreateItemAdjustments:
		item, ok := order.LineItem(ref.ID)
		if !ok {
			return decimal.Zero, fmt.Errorf("line item %s: %w", ref.ID, domain.ErrLineItemNotFound)
		}
		value, err := Compute(action.Calculator, item.Amount())
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.Min(item.Amount(), value.Abs()).Neg(), nil

	case domain.ActionCreateQuantityAdjustment:
		return e.quantityAmount(order, promotion, action, ref)

	case domain.ActionFreeShipping:
		shipment, ok := order.Shipment(ref.ID)
		if !ok {
			return decimal.Zero, fmt.Errorf("shipment %s: %w", ref.ID, domain.ErrShipmentNotFound)
		}
		return shipment.Cost.Neg(), nil

	default:
		return decimal.Zero, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// quantityAmount скидывает фиксированную сумму за каждую единицу, входящую
// в полную группу из group_size единиц среди подходящих позиций заказа.
// Единицы, уже покрытые корректировками других позиций, не учитываются повторно.
func (e *Engine) quantityAmount(order *domain.Order, promotion domain.Promotion, action domain.PromotionAction, ref domain.AdjustableRef) (decimal.Decimal, error) {
	item, ok := order.LineItem(ref.ID)
	if !ok {
		return decimal.Zero, fmt.Errorf("line item %s: %w", ref.ID, domain.ErrLineItemNotFound)
	}
	perUnit, err := Compute(action.Calculator, item.Amount())
	if err != nil {
		return decimal.Zero, err
	}
	perUnit = perUnit.Abs()
	if perUnit.IsZero() {
		return decimal.Zero, nil
	}

	totalQuantity := 0
	for _, candidate := range order.LineItems {
		actionable, err := e.LineItemActionable(order, promotion, candidate)
		if err != nil {
			return decimal.Zero, err
		}
		if actionable {
			totalQuantity += candidate.Quantity
		}
	}
	groupSize := action.GroupSize
	if groupSize < 1 {
		groupSize = 1
	}
	applicable := decimal.NewFromInt(int64(totalQuantity - totalQuantity%groupSize))

	used := decimal.Zero
	for _, adj := range order.Adjustments {
		if adj.Adjustable.Kind != domain.AdjustableLineItem || adj.Adjustable.ID == item.ID {
			continue
		}
		if adj.Promotion() && adj.Source.ID == action.ID {
			used = used.Add(adj.Amount)
		}
	}
	used = used.Div(perUnit).Neg()

	usable := decimal.Min(applicable.Sub(used), decimal.NewFromInt(int64(item.Quantity)))
	if usable.IsNegative() {
		usable = decimal.Zero
	}
	return decimal.Min(item.Amount(), perUnit.Mul(usable)).Neg(), nil
}

func hasActionAdjustment(order *domain.Order, ref domain.AdjustableRef, actionID string) bool {
	for _, adj := range order.AdjustmentsFor(ref) {
		if adj.Promotion() && adj.Source.ID == actionID {
			return true
		}
	}
	return false
}

func (e *Engine) addAdjustment(order *domain.Order, ref domain.AdjustableRef, promotion domain.Promotion, action domain.PromotionAction, code *domain.PromotionCode, amount decimal.Decimal) {
	adj := domain.Adjustment{
		ID:          e.newID(),
		Adjustable:  ref,
		Source:      domain.AdjustmentSource{Kind: domain.SourcePromotionAction, ID: action.ID},
		PromotionID: promotion.ID,
		Amount:      amount,
		Label:       "Promotion (" + promotion.Name + ")",
		Eligible:    true,
		CreatedAt:   e.now().UTC(),
	}
	if code != nil {
		adj.PromotionCodeID = code.ID
	}
	order.Adjustments = append(order.Adjustments, adj)
}
