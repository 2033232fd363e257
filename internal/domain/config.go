package domain

import "slices"

// StoreConfig: настройки магазина, передаваемые компонентам явно.
type StoreConfig struct {
	// AllowBackorderShipping разрешает отгрузку единиц в состоянии backordered.
	AllowBackorderShipping bool
	// PaymentMethodPriority задаёт порядок списания по типам методов.
	PaymentMethodPriority []PaymentMethodType
	Currency              string
}

// DefaultStoreConfig возвращает настройки по умолчанию.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		PaymentMethodPriority: []PaymentMethodType{
			PaymentMethodStoreCredit,
			PaymentMethodGiftCard,
			PaymentMethodCreditCard,
			PaymentMethodCheck,
		},
		Currency: "USD",
	}
}

// PaymentPriority возвращает позицию метода в приоритете; неизвестные методы идут последними.
func (c StoreConfig) PaymentPriority(method PaymentMethodType) int {
	if idx := slices.Index(c.PaymentMethodPriority, method); idx >= 0 {
		return idx
	}
	return len(c.PaymentMethodPriority)
}
