package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type stockKey struct {
	location string
	variant  string
}

// StockRepository ведёт складские позиции и журнал движений в памяти.
type StockRepository struct {
	mu        sync.RWMutex
	items     map[stockKey]domain.StockItem
	movements map[stockKey][]domain.StockMovement
	now       func() time.Time
}

// NewStockRepository создаёт пустой склад.
func NewStockRepository() *StockRepository {
	return &StockRepository{
		items:     make(map[stockKey]domain.StockItem),
		movements: make(map[stockKey][]domain.StockMovement),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Move добавляет движение, создавая позицию при положительном количестве.
func (r *StockRepository) Move(locationID, variantID string, quantity int, originator string) (domain.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stockKey{location: locationID, variant: variantID}
	item, ok := r.items[key]
	if !ok {
		if quantity < 1 {
			return domain.StockMovement{}, domain.ErrInvalidMovement
		}
		item = domain.StockItem{ID: uuid.NewString(), StockLocationID: locationID, VariantID: variantID}
	}

	item.CountOnHand += quantity
	r.items[key] = item

	movement := domain.StockMovement{
		ID:              uuid.NewString(),
		StockItemID:     item.ID,
		StockLocationID: locationID,
		VariantID:       variantID,
		Quantity:        quantity,
		Originator:      originator,
		CreatedAt:       r.now(),
	}
	r.movements[key] = append(r.movements[key], movement)
	return movement, nil
}

// StockItem возвращает позицию или ErrStockItemNotFound.
func (r *StockRepository) StockItem(locationID, variantID string) (domain.StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[stockKey{location: locationID, variant: variantID}]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return item, nil
}

// UpsertStockItem создаёт позицию или обновляет флаг backorderable. Остаток
// меняется только движениями.
func (r *StockRepository) UpsertStockItem(item domain.StockItem) (domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stockKey{location: item.StockLocationID, variant: item.VariantID}
	current, ok := r.items[key]
	if !ok {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CountOnHand = 0
		r.items[key] = item
		return item, nil
	}
	current.Backorderable = item.Backorderable
	r.items[key] = current
	return current, nil
}

// Movements возвращает журнал движений позиции.
func (r *StockRepository) Movements(locationID, variantID string) ([]domain.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	movements := r.movements[stockKey{location: locationID, variant: variantID}]
	result := make([]domain.StockMovement, len(movements))
	copy(result, movements)
	return result, nil
}

var _ domain.StockRepository = (*StockRepository)(nil)
