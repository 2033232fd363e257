// Package promotion проверяет применимость промо-акций и создаёт их корректировки.
package promotion

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

// Engine: правила применимости, лимиты использования и активация акций.
type Engine struct {
	promotions domain.PromotionRepository
	usage      domain.PromotionUsageCounter
	metrics    *metrics.LedgerMetrics
	logger     *log.Entry
	now        func() time.Time
	newID      func() string
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics включает метрики активаций.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNow подменяет часы для проверки окна действия.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов корректировок.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine создаёт движок промо-акций.
func NewEngine(promotions domain.PromotionRepository, usage domain.PromotionUsageCounter, opts ...Option) *Engine {
	e := &Engine{
		promotions: promotions,
		usage:      usage,
		logger:     log.WithField("component", "promotion"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eligible проверяет окно действия, лимиты акции и кода, чёрный список и правила.
func (e *Engine) Eligible(order *domain.Order, promotable domain.AdjustableRef, promotion domain.Promotion, code *domain.PromotionCode) (bool, error) {
	if !promotion.Active(e.now()) {
		return false, nil
	}

	exceeded, err := e.UsageLimitExceeded(order, promotable, promotion)
	if err != nil || exceeded {
		return false, err
	}
	if code != nil {
		exceeded, err = e.CodeUsageLimitExceeded(order, promotable, promotion, *code)
		if err != nil || exceeded {
			return false, err
		}
	}

	if blacklisted(order, promotable) {
		return false, nil
	}

	_, ok := e.EligibleRules(order, promotable, promotion)
	return ok, nil
}

// EligibleRules возвращает выполненные правила для promotable. Без правил,
// или без правил для этого вида объекта, результат пустой и ok == true.
// ok == false означает, что правила делают объект неприменимым.
func (e *Engine) EligibleRules(order *domain.Order, promotable domain.AdjustableRef, promotion domain.Promotion) ([]domain.PromotionRule, bool) {
	if len(promotion.Rules) == 0 {
		return []domain.PromotionRule{}, true
	}

	var specific []domain.PromotionRule
	for _, rule := range promotion.Rules {
		if ruleApplicable(rule, promotable) {
			specific = append(specific, rule)
		}
	}
	if len(specific) == 0 {
		return []domain.PromotionRule{}, true
	}

	if promotion.MatchPolicy == domain.MatchPolicyAny {
		var matched []domain.PromotionRule
		for _, rule := range specific {
			if ruleEligible(rule, order) {
				matched = append(matched, rule)
			}
		}
		if len(matched) == 0 {
			return nil, false
		}
		return matched, true
	}

	for _, rule := range specific {
		if !ruleEligible(rule, order) {
			return nil, false
		}
	}
	return specific, true
}

// UsageLimitExceeded: число действующих корректировок акции по всем заказам
// за вычетом корректировок самого promotable не меньше лимита.
func (e *Engine) UsageLimitExceeded(order *domain.Order, promotable domain.AdjustableRef, promotion domain.Promotion) (bool, error) {
	if promotion.UsageLimit <= 0 {
		return false, nil
	}
	credits, err := e.usage.PromotionCredits(promotion.ActionIDs(), "")
	if err != nil {
		return false, fmt.Errorf("promotion %s credits: %w", promotion.ID, err)
	}
	own := ownPromotionAdjustments(order, promotable, promotion, "")
	return credits-own >= promotion.UsageLimit, nil
}

// CodeUsageLimitExceeded: та же формула, ограниченная корректировками кода.
func (e *Engine) CodeUsageLimitExceeded(order *domain.Order, promotable domain.AdjustableRef, promotion domain.Promotion, code domain.PromotionCode) (bool, error) {
	if code.UsageLimit <= 0 {
		return false, nil
	}
	credits, err := e.usage.PromotionCredits(promotion.ActionIDs(), code.ID)
	if err != nil {
		return false, fmt.Errorf("promotion code %s credits: %w", code.ID, err)
	}
	own := ownPromotionAdjustments(order, promotable, promotion, code.ID)
	return credits-own >= code.UsageLimit, nil
}

// LineItemActionable: акция применима к заказу и выполненные правила
// (все или любое, по match_policy) разрешают действие над позицией.
func (e *Engine) LineItemActionable(order *domain.Order, promotion domain.Promotion, item domain.LineItem) (bool, error) {
	ref := domain.OrderRef(order.ID)
	eligible, err := e.Eligible(order, ref, promotion, nil)
	if err != nil || !eligible {
		return false, err
	}

	rules, _ := e.EligibleRules(order, ref, promotion)
	if len(rules) == 0 {
		return true, nil
	}
	if promotion.MatchPolicy == domain.MatchPolicyAny {
		for _, rule := range rules {
			if ruleActionable(rule, item) {
				return true, nil
			}
		}
		return false, nil
	}
	for _, rule := range rules {
		if !ruleActionable(rule, item) {
			return false, nil
		}
	}
	return true, nil
}

// ComputeAdjustment пересчитывает сумму и применимость промо-корректировки.
// Корректировка удалённого действия становится неприменимой.
func (e *Engine) ComputeAdjustment(order *domain.Order, adjustment domain.Adjustment) (decimal.Decimal, bool, error) {
	promotion, err := e.promotions.Get(adjustment.PromotionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return adjustment.Amount, false, nil
		}
		return decimal.Zero, false, err
	}
	action, ok := promotion.Action(adjustment.Source.ID)
	if !ok {
		return adjustment.Amount, false, nil
	}

	amount, err := e.computeAmount(order, promotion, action, adjustment.Adjustable)
	if err != nil {
		return decimal.Zero, false, err
	}

	var code *domain.PromotionCode
	if adjustment.PromotionCodeID != "" {
		for i := range promotion.Codes {
			if promotion.Codes[i].ID == adjustment.PromotionCodeID {
				code = &promotion.Codes[i]
				break
			}
		}
	}
	eligible, err := e.Eligible(order, adjustment.Adjustable, promotion, code)
	if err != nil {
		return decimal.Zero, false, err
	}
	return amount, eligible, nil
}

// Activate выполняет все действия акции. Для заказов после checkout ничего
// не делает. Если хотя бы одно действие сработало, привязывает акцию к заказу.
func (e *Engine) Activate(order *domain.Order, promotion domain.Promotion, lineItemID string, code *domain.PromotionCode) (bool, error) {
	if !orderActivatable(order) {
		return false, nil
	}
	if len(promotion.Codes) > 0 && code == nil {
		return false, nil
	}

	taken := false
	for _, action := range promotion.Actions {
		performed, err := e.perform(order, promotion, action, lineItemID, code)
		if err != nil {
			return false, fmt.Errorf("promotion %s action %s: %w", promotion.ID, action.ID, err)
		}
		taken = taken || performed
	}
	if !taken {
		return false, nil
	}

	codeID := ""
	if code != nil {
		codeID = code.ID
	}
	if !order.HasPromotion(promotion.ID, codeID) {
		order.Promotions = append(order.Promotions, domain.OrderPromotion{PromotionID: promotion.ID, PromotionCodeID: codeID})
	}
	e.metrics.RecordPromotionActivated()
	e.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"promotion_id": promotion.ID,
		"code_id":      codeID,
	}).Info("promotion activated")
	return true, nil
}

func orderActivatable(order *domain.Order) bool {
	if order == nil {
		return false
	}
	switch order.State {
	case domain.OrderStateComplete, domain.OrderStateAwaitingReturn, domain.OrderStateReturned:
		return false
	default:
		return true
	}
}

func blacklisted(order *domain.Order, promotable domain.AdjustableRef) bool {
	switch promotable.Kind {
	case domain.AdjustableLineItem:
		item, ok := order.LineItem(promotable.ID)
		return ok && !item.Variant.Promotionable
	case domain.AdjustableOrder:
		for _, item := range order.LineItems {
			if !item.Variant.Promotionable {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ownPromotionAdjustments считает промо-корректировки promotable от действий акции;
// при непустом codeID только с этим кодом.
func ownPromotionAdjustments(order *domain.Order, promotable domain.AdjustableRef, promotion domain.Promotion, codeID string) int {
	count := 0
	for _, adj := range order.AdjustmentsFor(promotable) {
		if !adj.Promotion() || !promotion.OwnsAction(adj.Source.ID) {
			continue
		}
		if codeID != "" && adj.PromotionCodeID != codeID {
			continue
		}
		count++
	}
	return count
}
