package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// PromotionRepository хранит промо-акции в памяти. Коды сравниваются без учёта регистра.
type PromotionRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Promotion
}

// NewPromotionRepository создаёт пустой репозиторий.
func NewPromotionRepository() *PromotionRepository {
	return &PromotionRepository{items: make(map[string]domain.Promotion)}
}

// Create добавляет или заменяет акцию.
func (r *PromotionRepository) Create(promotion domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[promotion.ID] = promotion.Clone()
	return nil
}

// Get возвращает акцию или ErrPromotionNotFound.
func (r *PromotionRepository) Get(id string) (domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	promotion, ok := r.items[id]
	if !ok {
		return domain.Promotion{}, domain.ErrPromotionNotFound
	}
	return promotion.Clone(), nil
}

// FindByCode ищет акцию по значению кода.
func (r *PromotionRepository) FindByCode(value string) (domain.Promotion, domain.PromotionCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value = strings.TrimSpace(value)
	for _, promotion := range r.items {
		for _, code := range promotion.Codes {
			if strings.EqualFold(code.Value, value) {
				return promotion.Clone(), code, nil
			}
		}
	}
	return domain.Promotion{}, domain.PromotionCode{}, domain.ErrPromotionCodeNotFound
}

// ListAutomatic возвращает акции без кодов и path, упорядоченные по ID.
func (r *PromotionRepository) ListAutomatic() ([]domain.Promotion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Promotion
	for _, promotion := range r.items {
		if len(promotion.Codes) > 0 || promotion.Path != "" {
			continue
		}
		result = append(result, promotion.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.PromotionRepository = (*PromotionRepository)(nil)
