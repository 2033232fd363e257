package shipping

import (
	"context"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

// OutboxMailer ставит письмо об отгрузке в outbox как событие carton.shipped.
// Доставку выполняет подписчик топика.
type OutboxMailer struct {
	events *outbox.Emitter
}

// NewOutboxMailer создаёт mailer.
func NewOutboxMailer(events *outbox.Emitter) *OutboxMailer {
	return &OutboxMailer{events: events}
}

// ShippedMessage строит событие carton.shipped для записи в транзакции коробки.
func (m *OutboxMailer) ShippedMessage(carton domain.Carton, resend bool) (domain.OutboxMessage, error) {
	return outbox.Message(shippedEvent(carton, resend))
}

// ShippedEmail ставит в очередь одно событие carton.shipped.
func (m *OutboxMailer) ShippedEmail(_ context.Context, carton domain.Carton, resend bool) error {
	_, err := m.events.Emit(shippedEvent(carton, resend))
	return err
}

func shippedEvent(carton domain.Carton, resend bool) domain.CartonShippedEvent {
	return domain.CartonShippedEvent{CartonID: carton.ID, OrderID: carton.OrderID, Resend: resend}
}

var _ domain.ShipmentMailer = (*OutboxMailer)(nil)
