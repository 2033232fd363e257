package promotion

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Все поддерживаемые правила проверяются на уровне заказа; для позиций
// и отгрузок применимых правил нет.
func ruleApplicable(rule domain.PromotionRule, promotable domain.AdjustableRef) bool {
	switch rule.Type {
	case domain.RuleItemTotal, domain.RuleProduct, domain.RuleUser:
		return promotable.Kind == domain.AdjustableOrder
	default:
		return false
	}
}

func ruleEligible(rule domain.PromotionRule, order *domain.Order) bool {
	switch rule.Type {
	case domain.RuleItemTotal:
		total := itemTotal(order)
		if rule.Operator == "gte" {
			return total.GreaterThanOrEqual(rule.Amount)
		}
		return total.GreaterThan(rule.Amount)
	case domain.RuleProduct:
		return productRuleEligible(rule, order)
	case domain.RuleUser:
		return order.UserID != "" && slices.Contains(rule.UserIDs, order.UserID)
	default:
		return false
	}
}

func itemTotal(order *domain.Order) decimal.Decimal {
	total := decimal.Zero
	for _, item := range order.LineItems {
		total = total.Add(item.Amount())
	}
	return total
}

func productRuleEligible(rule domain.PromotionRule, order *domain.Order) bool {
	if len(rule.ProductIDs) == 0 {
		return true
	}
	orderProducts := make(map[string]struct{}, len(order.LineItems))
	for _, item := range order.LineItems {
		orderProducts[item.Variant.ProductID] = struct{}{}
	}
	has := func(id string) bool {
		_, ok := orderProducts[id]
		return ok
	}

	switch rule.ProductMatch {
	case "all":
		for _, id := range rule.ProductIDs {
			if !has(id) {
				return false
			}
		}
		return true
	case "none":
		for _, id := range rule.ProductIDs {
			if has(id) {
				return false
			}
		}
		return true
	default:
		for _, id := range rule.ProductIDs {
			if has(id) {
				return true
			}
		}
		return false
	}
}

// ruleActionable сообщает, можно ли применить действие правила к позиции.
func ruleActionable(rule domain.PromotionRule, item domain.LineItem) bool {
	if rule.Type != domain.RuleProduct || len(rule.ProductIDs) == 0 {
		return true
	}
	listed := slices.Contains(rule.ProductIDs, item.Variant.ProductID)
	if rule.ProductMatch == "none" {
		return !listed
	}
	return listed
}
