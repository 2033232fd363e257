package memory

import (
	"slices"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// OrderRepository: in-memory реализация OrderRepository и PromotionUsageCounter.
// Коробки и захваты сохраняют заказы через неё же, под её блокировкой.
type OrderRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *OrderRepository) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает копию заказа или ErrOrderNotFound.
func (r *OrderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *OrderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersionLocked(order); err != nil {
		return err
	}
	r.saveLocked(order)
	return nil
}

// ListCapturable возвращает завершённые заказы с balance_due, старые первыми.
func (r *OrderRepository) ListCapturable(limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.State != domain.OrderStateComplete || order.PaymentState != domain.PaymentStateBalanceDue {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].CompletedAt.Before(result[j].CompletedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateTotals переписывает вычисленное конвейером без смены версии: итоги
// и состояния заказа, итоги позиций, состояния отгрузок и корректировки.
func (r *OrderRepository) UpdateTotals(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.ItemTotal = order.ItemTotal
	current.ShipmentTotal = order.ShipmentTotal
	current.AdjustmentTotal = order.AdjustmentTotal
	current.PromoTotal = order.PromoTotal
	current.IncludedTaxTotal = order.IncludedTaxTotal
	current.AdditionalTaxTotal = order.AdditionalTaxTotal
	current.PaymentTotal = order.PaymentTotal
	current.Total = order.Total
	current.ItemCount = order.ItemCount
	current.PaymentState = order.PaymentState
	current.ShipmentState = order.ShipmentState
	current.UpdatedAt = order.UpdatedAt

	computed := order.Clone()
	current.LineItems = computed.LineItems
	current.Shipments = computed.Shipments
	current.Adjustments = computed.Adjustments
	r.items[order.ID] = current
	return nil
}

// PromotionCredits считает eligible промо-корректировки от actionIDs во всех заказах.
func (r *OrderRepository) PromotionCredits(actionIDs []string, codeID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, order := range r.items {
		for _, adj := range order.Adjustments {
			if !adj.Promotion() || !adj.Eligible || !slices.Contains(actionIDs, adj.Source.ID) {
				continue
			}
			if codeID != "" && adj.PromotionCodeID != codeID {
				continue
			}
			count++
		}
	}
	return count, nil
}

func (r *OrderRepository) checkVersionLocked(order domain.Order) error {
	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func (r *OrderRepository) saveLocked(order domain.Order) {
	order = order.Clone()
	order.Version++
	r.items[order.ID] = order
}

var (
	_ domain.OrderRepository       = (*OrderRepository)(nil)
	_ domain.PromotionUsageCounter = (*OrderRepository)(nil)
)
