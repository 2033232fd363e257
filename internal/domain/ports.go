package domain

import (
	"context"
	"time"
)

// OrderMutex: эксклюзивная блокировка заказа на время пост-checkout изменений.
type OrderMutex interface {
	// WithLock выполняет fn под блокировкой orderID и снимает её на любом выходе.
	// Если блокировка занята, возвращает ErrLockFailed и fn не вызывается.
	WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error
}

// PaymentGateway описывает захват средств у платёжного провайдера.
type PaymentGateway interface {
	// Capture списывает amountMinor по авторизованному платежу. Ошибка шлюза
	// возвращается как есть, повтор остаётся на вызывающем.
	Capture(ctx context.Context, payment Payment, amountMinor int64, currency string) error
}

// ShipmentMailer: внешний отправитель писем об отгрузке.
type ShipmentMailer interface {
	// ShippedMessage строит событие письма, которое сохраняется вместе с коробкой.
	ShippedMessage(carton Carton, resend bool) (OutboxMessage, error)
	ShippedEmail(ctx context.Context, carton Carton, resend bool) error
}

// PromotionUsageCounter считает действующие промо-корректировки по всем заказам.
type PromotionUsageCounter interface {
	// PromotionCredits возвращает число eligible-корректировок от actionIDs;
	// при непустом codeID учитываются только корректировки с этим кодом.
	PromotionCredits(actionIDs []string, codeID string) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	// Append дописывает события одной записью: сохраняются все или ни одно.
	Append(events ...TimelineEvent) error
	// List возвращает события заказа по времени, затем по Seq. Непустой types
	// оставляет только события этих типов.
	List(orderID string, types ...string) ([]TimelineEvent, error)
}

// Типы агрегатов и событий outbox.
const (
	AggregateCarton = "carton"
	AggregateOrder  = "order"

	EventCartonShipped          = "carton.shipped"
	EventCartonCaptured         = "carton.captured"
	EventPaymentCaptureShortage = "payment.capture_shortfall"
	EventOrderShortShipped      = "order.short_shipped"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
