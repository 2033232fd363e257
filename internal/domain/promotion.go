package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// MatchPolicy определяет, сколько правил должно выполниться.
type MatchPolicy string

const (
	MatchPolicyAll MatchPolicy = "all"
	MatchPolicyAny MatchPolicy = "any"
)

// RuleType: поддерживаемые правила применимости промо.
type RuleType string

const (
	RuleItemTotal RuleType = "item_total"
	RuleProduct   RuleType = "product"
	RuleUser      RuleType = "user"
)

// PromotionRule: предикат применимости. Параметры заполняются по типу правила.
type PromotionRule struct {
	ID   string
	Type RuleType
	// item_total
	Amount   decimal.Decimal
	Operator string // gt | gte
	// product
	ProductIDs   []string
	ProductMatch string // any | all | none
	// user
	UserIDs []string
}

// ActionType: действия промо, порождающие корректировки.
type ActionType string

const (
	ActionCreateAdjustment         ActionType = "create_adjustment"
	ActionCreateItemAdjustments    ActionType = "create_item_adjustments"
	ActionCreateQuantityAdjustment ActionType = "create_quantity_adjustments"
	ActionFreeShipping             ActionType = "free_shipping"
)

// CalculatorType: способ расчёта суммы скидки.
type CalculatorType string

const (
	CalculatorFlatRate      CalculatorType = "flat_rate"
	CalculatorPercent       CalculatorType = "percent_on_line_item"
	CalculatorTieredPercent CalculatorType = "tiered_percent"
)

// Tier: порог для tiered_percent: от суммы Base применяется Percent.
type Tier struct {
	Base    decimal.Decimal
	Percent decimal.Decimal
}

// Calculator: параметры калькулятора действия.
type Calculator struct {
	Type        CalculatorType
	Amount      decimal.Decimal
	Percent     decimal.Decimal
	BasePercent decimal.Decimal
	Tiers       []Tier
}

// PromotionAction: действие промо-акции.
type PromotionAction struct {
	ID         string
	Type       ActionType
	Calculator Calculator
	GroupSize  int
}

// PromotionCode: купон с собственным лимитом использований (0 — без лимита).
type PromotionCode struct {
	ID          string
	PromotionID string
	Value       string
	UsageLimit  int
}

// Promotion: промо-акция с правилами, действиями и кодами.
type Promotion struct {
	ID          string
	Name        string
	Path        string
	StartsAt    time.Time
	ExpiresAt   time.Time
	UsageLimit  int
	MatchPolicy MatchPolicy
	Rules       []PromotionRule
	Actions     []PromotionAction
	Codes       []PromotionCode
}

// Active: текущий момент попадает в окно действия (нулевые границы открыты).
func (p Promotion) Active(now time.Time) bool {
	if !p.StartsAt.IsZero() && !p.StartsAt.Before(now) {
		return false
	}
	if !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}

// ActionIDs возвращает идентификаторы действий акции.
func (p Promotion) ActionIDs() []string {
	ids := make([]string, 0, len(p.Actions))
	for _, action := range p.Actions {
		ids = append(ids, action.ID)
	}
	return ids
}

// Action ищет действие по идентификатору.
func (p Promotion) Action(id string) (PromotionAction, bool) {
	for _, action := range p.Actions {
		if action.ID == id {
			return action, true
		}
	}
	return PromotionAction{}, false
}

// OwnsAction проверяет принадлежность действия акции.
func (p Promotion) OwnsAction(id string) bool {
	return slices.Contains(p.ActionIDs(), id)
}

// HasAction проверяет наличие действия указанного типа.
func (p Promotion) HasAction(t ActionType) bool {
	for _, action := range p.Actions {
		if action.Type == t {
			return true
		}
	}
	return false
}

// Clone копирует вложенные слайсы.
func (p Promotion) Clone() Promotion {
	p.Rules = slices.Clone(p.Rules)
	for i := range p.Rules {
		p.Rules[i].ProductIDs = slices.Clone(p.Rules[i].ProductIDs)
		p.Rules[i].UserIDs = slices.Clone(p.Rules[i].UserIDs)
	}
	p.Actions = slices.Clone(p.Actions)
	for i := range p.Actions {
		p.Actions[i].Calculator.Tiers = slices.Clone(p.Actions[i].Calculator.Tiers)
	}
	p.Codes = slices.Clone(p.Codes)
	return p
}
