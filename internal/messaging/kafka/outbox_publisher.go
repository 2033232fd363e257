package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

var errPublisherClosed = errors.New("kafka outbox publisher has no producer")

// OutboxPublisher отправляет записи outbox в один топик. Ключ сообщения
// берётся из заказа события, поэтому события заказа и его коробок читаются
// по порядку.
type OutboxPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher; пустой topic означает ledger.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicLedgerEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// Publish оборачивает запись в Envelope и добавляет заголовки типа события
// и заказа.
func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherClosed
	}

	key := PartitionKey(msg.EventType, msg.Payload, firstNonEmpty(msg.AggregateID, msg.ID))
	_, err := p.producer.Send(Record{
		Topic: p.topic,
		Key:   key,
		Value: Envelope{
			ID:            msg.ID,
			AggregateType: msg.AggregateType,
			AggregateID:   msg.AggregateID,
			EventType:     msg.EventType,
			Payload:       json.RawMessage(msg.Payload),
			PublishedAt:   time.Now().UTC(),
		},
		Headers: []sarama.RecordHeader{
			header(HeaderEventType, msg.EventType),
			header(HeaderOrderKey, key),
		},
	})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
