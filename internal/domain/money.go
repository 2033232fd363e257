package domain

import "github.com/shopspring/decimal"

// Zero: нулевая сумма, чтобы не плодить decimal.Decimal{} по коду.
var Zero = decimal.Zero

// RoundMoney округляет сумму до центов (половина от нуля, как и в отчётах).
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinor переводит сумму в минимальные единицы валюты, отбрасывая дробную часть копейки.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}

// FromMinor переводит минимальные единицы обратно в десятичную сумму.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Sum складывает произвольный набор сумм.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}

// MustMoney разбирает строковую сумму; используется в тестах и фикстурах.
func MustMoney(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
