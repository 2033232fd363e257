package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

var errNoOutbox = errors.New("carton repository has no outbox")

// CartonRepository хранит коробки в памяти. Заказ и события outbox пишутся
// под блокировками своих репозиториев вместе с коробкой.
type CartonRepository struct {
	orders *OrderRepository
	outbox *OutboxRepository

	mu    sync.RWMutex
	items map[string]domain.Carton
}

// NewCartonRepository создаёт репозиторий, сохраняющий заказы через orders,
// а события через outbox.
func NewCartonRepository(orders *OrderRepository, outbox *OutboxRepository) *CartonRepository {
	return &CartonRepository{orders: orders, outbox: outbox, items: make(map[string]domain.Carton)}
}

// Create сохраняет коробку, заказ и события одной операцией.
func (r *CartonRepository) Create(carton domain.Carton, order domain.Order, events ...domain.OutboxMessage) error {
	if len(events) > 0 && r.outbox == nil {
		return errNoOutbox
	}

	r.orders.mu.Lock()
	defer r.orders.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[carton.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	if err := r.orders.checkVersionLocked(order); err != nil {
		return err
	}
	if len(events) > 0 {
		r.outbox.mu.Lock()
		defer r.outbox.mu.Unlock()
		for _, msg := range events {
			r.outbox.enqueueLocked(msg)
		}
	}
	r.orders.saveLocked(order)
	r.items[carton.ID] = carton.Clone()
	return nil
}

// Get возвращает коробку или ErrCartonNotFound.
func (r *CartonRepository) Get(id string) (domain.Carton, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	carton, ok := r.items[id]
	if !ok {
		return domain.Carton{}, domain.ErrCartonNotFound
	}
	return carton.Clone(), nil
}

// ListByOrder возвращает коробки, содержащие единицы заказа, по времени создания.
func (r *CartonRepository) ListByOrder(orderID string) ([]domain.Carton, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Carton
	for _, carton := range r.items {
		if containsOrder(carton, orderID) {
			result = append(result, carton.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func containsOrder(carton domain.Carton, orderID string) bool {
	if carton.OrderID == orderID {
		return true
	}
	for _, unit := range carton.Units {
		if unit.OrderID == orderID {
			return true
		}
	}
	return false
}

var _ domain.CartonRepository = (*CartonRepository)(nil)
