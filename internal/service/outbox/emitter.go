package outbox

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

// Emitter сериализует типизированное событие и кладёт его в outbox.
type Emitter struct {
	repo    domain.OutboxRepository
	metrics *metrics.LedgerMetrics
	logger  *log.Entry
}

// NewEmitter создаёт Emitter. repo может быть nil: тогда события только строятся.
func NewEmitter(repo domain.OutboxRepository, m *metrics.LedgerMetrics, logger *log.Entry) *Emitter {
	if logger == nil {
		logger = log.WithField("component", "outbox-emitter")
	}
	return &Emitter{repo: repo, metrics: m, logger: logger}
}

// Message строит запись outbox из события, не ставя её в очередь.
func Message(event domain.LedgerEvent) (domain.OutboxMessage, error) {
	kind, id := event.Aggregate()
	if id == "" {
		return domain.OutboxMessage{}, fmt.Errorf("%s event has no %s id", event.EventType(), kind)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}
	return domain.OutboxMessage{
		AggregateType: kind,
		AggregateID:   id,
		EventType:     event.EventType(),
		Payload:       data,
	}, nil
}

// Emit ставит событие в очередь.
func (e *Emitter) Emit(event domain.LedgerEvent) (domain.OutboxMessage, error) {
	msg, err := Message(event)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	if e == nil || e.repo == nil {
		return msg, nil
	}

	stored, err := e.repo.Enqueue(msg)
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": msg.AggregateID,
			"order_id":     event.OrderKey(),
			"event":        msg.EventType,
		}).Error("enqueue event failed")
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s: %w", msg.EventType, err)
	}
	e.metrics.RecordOutboxEvent()
	return stored, nil
}
