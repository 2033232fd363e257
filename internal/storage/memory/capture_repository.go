package memory

import (
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// CaptureRepository хранит захваты коробок в памяти.
type CaptureRepository struct {
	orders *OrderRepository

	mu    sync.RWMutex
	items []domain.CartonCapture
}

// NewCaptureRepository создаёт репозиторий, сохраняющий заказы через orders.
func NewCaptureRepository(orders *OrderRepository) *CaptureRepository {
	return &CaptureRepository{orders: orders}
}

// Create сохраняет захват и все изменённые заказы. Если версия хотя бы
// одного заказа устарела, не сохраняется ничего.
func (r *CaptureRepository) Create(capture domain.CartonCapture, orders []domain.Order) error {
	r.orders.mu.Lock()
	defer r.orders.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, order := range orders {
		if err := r.orders.checkVersionLocked(order); err != nil {
			return err
		}
	}
	for _, order := range orders {
		r.orders.saveLocked(order)
	}
	capture.Captures = slices.Clone(capture.Captures)
	r.items = append(r.items, capture)
	return nil
}

// ListByCarton возвращает захваты коробки в порядке создания.
func (r *CaptureRepository) ListByCarton(cartonID string) ([]domain.CartonCapture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.CartonCapture
	for _, capture := range r.items {
		if capture.CartonID != cartonID {
			continue
		}
		capture.Captures = slices.Clone(capture.Captures)
		result = append(result, capture)
	}
	return result, nil
}

var _ domain.CaptureRepository = (*CaptureRepository)(nil)
