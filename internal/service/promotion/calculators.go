package promotion

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Compute считает положительную сумму скидки для суммы amount.
func Compute(calc domain.Calculator, amount decimal.Decimal) (decimal.Decimal, error) {
	switch calc.Type {
	case domain.CalculatorFlatRate:
		return calc.Amount, nil
	case domain.CalculatorPercent:
		return percentOf(amount, calc.Percent), nil
	case domain.CalculatorTieredPercent:
		return percentOf(amount, tierPercent(calc, amount)), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown calculator %q", calc.Type)
	}
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return domain.RoundMoney(amount.Mul(percent).Div(hundred))
}

// tierPercent берёт процент старшего порога, который покрывает amount.
func tierPercent(calc domain.Calculator, amount decimal.Decimal) decimal.Decimal {
	tiers := append([]domain.Tier(nil), calc.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Base.GreaterThan(tiers[j].Base) })
	for _, tier := range tiers {
		if amount.GreaterThanOrEqual(tier.Base) {
			return tier.Percent
		}
	}
	return calc.BasePercent
}
