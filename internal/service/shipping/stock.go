package shipping

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// OriginatorBackorder: источник движений при возврате единиц под заказ.
const OriginatorBackorder = "backorder"

// Stock: операции склада поверх журнала движений.
type Stock struct {
	repo   domain.StockRepository
	logger *log.Entry
}

// NewStock создаёт Stock.
func NewStock(repo domain.StockRepository, logger *log.Entry) *Stock {
	if logger == nil {
		logger = log.WithField("component", "stock")
	}
	return &Stock{repo: repo, logger: logger}
}

// Move добавляет движение. Отрицательное или нулевое движение по отсутствующей
// позиции возвращает ErrInvalidMovement.
func (s *Stock) Move(locationID, variantID string, quantity int, originator string) (domain.StockMovement, error) {
	movement, err := s.repo.Move(locationID, variantID, quantity, originator)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("move %d of %s at %s: %w", quantity, variantID, locationID, err)
	}
	s.logger.WithFields(log.Fields{
		"stock_location_id": locationID,
		"variant_id":        variantID,
		"quantity":          quantity,
		"originator":        originator,
	}).Debug("stock moved")
	return movement, nil
}

// Restock возвращает единицы на склад.
func (s *Stock) Restock(locationID, variantID string, quantity int, originator string) (domain.StockMovement, error) {
	return s.Move(locationID, variantID, quantity, originator)
}

// RestockBackordered возвращает единицы, которые ждали поступления.
// Позиция создаётся при необходимости.
func (s *Stock) RestockBackordered(locationID, variantID string, quantity int) (domain.StockMovement, error) {
	return s.Move(locationID, variantID, quantity, OriginatorBackorder)
}

// Unstock списывает единицы со склада.
func (s *Stock) Unstock(locationID, variantID string, quantity int, originator string) (domain.StockMovement, error) {
	return s.Move(locationID, variantID, -quantity, originator)
}

// CountOnHand возвращает остаток. ok=false, если позиции нет.
func (s *Stock) CountOnHand(locationID, variantID string) (count int, ok bool, err error) {
	item, err := s.repo.StockItem(locationID, variantID)
	if errors.Is(err, domain.ErrStockItemNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return item.CountOnHand, true, nil
}
