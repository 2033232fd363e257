package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// ErrPromotionNotSpecified: не передан ни код, ни идентификатор акции.
var ErrPromotionNotSpecified = errors.New("promotion code or id is required")

// Recalculator пересчитывает заказ в памяти и пишет события timeline.
type Recalculator interface {
	Recalculate(ctx context.Context, order *domain.Order) ([]domain.TimelineEvent, error)
	RecordEvents(events []domain.TimelineEvent)
}

// ApplyRequest: запрос на применение акции к заказу.
type ApplyRequest struct {
	OrderID     string
	Code        string
	PromotionID string
	LineItemID  string
}

// Service применяет акции к сохранённым заказам под блокировкой заказа.
type Service struct {
	orders     domain.OrderRepository
	promotions domain.PromotionRepository
	engine     *Engine
	freeShip   *FreeShipping
	mutex      domain.OrderMutex
	updater    Recalculator
	logger     *log.Entry
}

// NewService создаёт сервис применения акций.
func NewService(
	orders domain.OrderRepository,
	promotions domain.PromotionRepository,
	engine *Engine,
	mutex domain.OrderMutex,
	updater Recalculator,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "promotion_service")
	}
	return &Service{
		orders:     orders,
		promotions: promotions,
		engine:     engine,
		freeShip:   NewFreeShipping(engine, promotions),
		mutex:      mutex,
		updater:    updater,
		logger:     logger,
	}
}

// Apply применяет акцию по коду или идентификатору. Возвращает false, если
// акция неприменима или ни одно действие не сработало; заказ тогда не меняется.
// Блокировка заказа не даёт двум купонам одновременно пройти проверку лимита.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (bool, error) {
	if req.Code == "" && req.PromotionID == "" {
		return false, ErrPromotionNotSpecified
	}

	applied := false
	err := s.mutex.WithLock(ctx, req.OrderID, func(ctx context.Context) error {
		stored, err := s.orders.Get(req.OrderID)
		if err != nil {
			return err
		}

		promotion, code, err := s.resolve(req)
		if err != nil {
			return err
		}

		order := stored.Clone()
		eligible, err := s.engine.Eligible(&order, domain.OrderRef(order.ID), promotion, code)
		if err != nil || !eligible {
			return err
		}
		taken, err := s.engine.Activate(&order, promotion, req.LineItemID, code)
		if err != nil || !taken {
			return err
		}

		events, err := s.updater.Recalculate(ctx, &order)
		if err != nil {
			return err
		}
		if err := s.orders.Save(order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}

		events = append(events, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelinePromotion,
			Reason:   "promotion " + promotion.ID + " applied",
			Next:     promotion.ID,
			Occurred: time.Now().UTC(),
		})
		s.updater.RecordEvents(events)
		applied = true
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":     req.OrderID,
			"promotion_id": req.PromotionID,
			"code":         req.Code,
		}).Warn("promotion apply failed")
		return false, err
	}
	return applied, nil
}

// ApplyFreeShipping активирует автоматические акции бесплатной доставки.
func (s *Service) ApplyFreeShipping(ctx context.Context, orderID string) (int, error) {
	activated := 0
	err := s.mutex.WithLock(ctx, orderID, func(ctx context.Context) error {
		stored, err := s.orders.Get(orderID)
		if err != nil {
			return err
		}
		order := stored.Clone()
		activated, err = s.freeShip.Activate(&order)
		if err != nil || activated == 0 {
			return err
		}
		events, err := s.updater.Recalculate(ctx, &order)
		if err != nil {
			return err
		}
		if err := s.orders.Save(order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
		s.updater.RecordEvents(events)
		return nil
	})
	return activated, err
}

func (s *Service) resolve(req ApplyRequest) (domain.Promotion, *domain.PromotionCode, error) {
	if req.Code != "" {
		promotion, code, err := s.promotions.FindByCode(req.Code)
		if err != nil {
			return domain.Promotion{}, nil, err
		}
		return promotion, &code, nil
	}
	promotion, err := s.promotions.Get(req.PromotionID)
	if err != nil {
		return domain.Promotion{}, nil, err
	}
	return promotion, nil, nil
}
