package promotion

import (
	"fmt"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// FreeShipping активирует автоматические (без кодов и path) акции бесплатной
// доставки, применимые к заказу.
type FreeShipping struct {
	engine     *Engine
	promotions domain.PromotionRepository
}

// NewFreeShipping создаёт обработчик.
func NewFreeShipping(engine *Engine, promotions domain.PromotionRepository) *FreeShipping {
	return &FreeShipping{engine: engine, promotions: promotions}
}

// Activate возвращает число сработавших акций.
func (h *FreeShipping) Activate(order *domain.Order) (int, error) {
	candidates, err := h.promotions.ListAutomatic()
	if err != nil {
		return 0, fmt.Errorf("list automatic promotions: %w", err)
	}

	activated := 0
	for _, promotion := range candidates {
		if !promotion.HasAction(domain.ActionFreeShipping) {
			continue
		}
		eligible, err := h.engine.Eligible(order, domain.OrderRef(order.ID), promotion, nil)
		if err != nil {
			return activated, err
		}
		if !eligible {
			continue
		}
		taken, err := h.engine.Activate(order, promotion, "", nil)
		if err != nil {
			return activated, err
		}
		if taken {
			activated++
		}
	}
	return activated, nil
}
