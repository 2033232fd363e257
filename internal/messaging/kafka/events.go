package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Topics для Kafka
const (
	TopicLedgerEvents    = "ledger.events"
	TopicDeadLetterQueue = "ledger.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOrderKey      = "x-order-key"
)

// Envelope: обёртка outbox-сообщения в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter: сообщение, не обработанное после всех попыток.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseEnvelope разбирает outbox-конверт из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

// ParseCartonShipped разбирает payload carton.shipped. carton_id по
// умолчанию берётся из агрегата конверта.
func ParseCartonShipped(envelope *Envelope) (*domain.CartonShippedEvent, error) {
	var event domain.CartonShippedEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal carton shipped payload: %w", err)
	}
	if event.CartonID == "" {
		event.CartonID = envelope.AggregateID
	}
	return &event, nil
}

// PartitionKey возвращает заказ события как ключ партиции. Для неизвестных
// или повреждённых payload используется fallback.
func PartitionKey(eventType string, payload []byte, fallback string) string {
	event, err := domain.DecodeLedgerEvent(eventType, payload)
	if err != nil || event.OrderKey() == "" {
		return fallback
	}
	return event.OrderKey()
}
