package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("line item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("line item price must be non-negative")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrLineItemNotFound возвращается, если позиция не принадлежит заказу.
	ErrLineItemNotFound = errors.New("line item not found")
	// ErrInventoryUnitNotFound возвращается, если единица товара не найдена в заказе.
	ErrInventoryUnitNotFound = errors.New("inventory unit not found")
	// ErrShipmentNotFound возвращается, если отгрузка не найдена в заказе.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrCartonNotFound возвращается, если коробка не найдена.
	ErrCartonNotFound = errors.New("carton not found")
	// ErrPromotionNotFound возвращается, если промо-акция не найдена.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrPromotionCodeNotFound возвращается, если промокод не найден.
	ErrPromotionCodeNotFound = errors.New("promotion code not found")
	// ErrStockItemNotFound возвращается, если для варианта на складе нет записи.
	ErrStockItemNotFound = errors.New("stock item not found")

	// ErrLockFailed: эксклюзивная блокировка заказа уже захвачена другим процессом.
	ErrLockFailed = errors.New("order lock failed")
	// ErrCaptureTooLarge: сумма захвата по коробке больше суммы заказа.
	ErrCaptureTooLarge = errors.New("total capture amount is larger than order total")
	// ErrInventoryPreviouslyProcessed: единица уже имеет capture или cancel.
	ErrInventoryPreviouslyProcessed = errors.New("inventory unit previously processed")
	// ErrUnitsFromOtherOrder: в пакете есть единицы другого заказа.
	ErrUnitsFromOtherOrder = errors.New("not all inventory units belong to this order")
	// ErrInvalidTransition: событие недопустимо из текущего состояния.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidMovement: отрицательное движение по отсутствующей складской позиции.
	ErrInvalidMovement = errors.New("negative movement for absent stock item")
	// ErrNoUnitsToShip: коробка не может быть пустой.
	ErrNoUnitsToShip = errors.New("carton must contain at least one inventory unit")
	// ErrNoUnitsToReturn: возврат без единиц.
	ErrNoUnitsToReturn = errors.New("return must contain at least one inventory unit")
	// ErrTimelineEventInvalid: событие timeline без заказа или типа.
	ErrTimelineEventInvalid = errors.New("timeline event needs order_id and type")
	// ErrNegativeUnprocessedCount: у позиции не осталось необработанных единиц.
	ErrNegativeUnprocessedCount = errors.New("line item has no unprocessed inventory units")

	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора платежа.
	ErrPaymentIDRequired = errors.New("payment id is required")
	// ErrPaymentDeclined: платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary: временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// TransitionError описывает отказ конечного автомата.
type TransitionError struct {
	Machine string
	Event   string
	From    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %q", e.Machine, e.Event, e.From)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsLockFailed проверяет, что операция не смогла захватить блокировку заказа.
func IsLockFailed(err error) bool {
	return errors.Is(err, ErrLockFailed)
}

// IsNotFound объединяет все ошибки отсутствующих сущностей.
func IsNotFound(err error) bool {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrLineItemNotFound),
		errors.Is(err, ErrInventoryUnitNotFound),
		errors.Is(err, ErrShipmentNotFound),
		errors.Is(err, ErrCartonNotFound),
		errors.Is(err, ErrPromotionNotFound),
		errors.Is(err, ErrPromotionCodeNotFound),
		errors.Is(err, ErrStockItemNotFound):
		return true
	default:
		return false
	}
}

// IsPrecondition отмечает бизнес-ошибки, после которых состояние не изменилось.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrCaptureTooLarge) ||
		errors.Is(err, ErrInventoryPreviouslyProcessed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidMovement) ||
		errors.Is(err, ErrNegativeUnprocessedCount)
}
