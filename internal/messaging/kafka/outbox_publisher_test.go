package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxPublisher_KeysByOrder(t *testing.T) {
	tests := []struct {
		name    string
		msg     domain.OutboxMessage
		wantKey string
	}{
		{
			name: "carton shipped goes to its order",
			msg: domain.OutboxMessage{
				ID: "ob-1", AggregateType: domain.AggregateCarton, AggregateID: "carton-1",
				EventType: domain.EventCartonShipped,
				Payload:   []byte(`{"carton_id":"carton-1","order_id":"order-7","resend":false}`),
			},
			wantKey: "order-7",
		},
		{
			name: "shortfall keyed by order aggregate",
			msg: domain.OutboxMessage{
				ID: "ob-2", AggregateType: domain.AggregateOrder, AggregateID: "order-7",
				EventType: domain.EventPaymentCaptureShortage,
				Payload:   []byte(`{"order_id":"order-7","shortfall":"4.00"}`),
			},
			wantKey: "order-7",
		},
		{
			name: "payload without order falls back to aggregate",
			msg: domain.OutboxMessage{
				ID: "ob-3", AggregateType: domain.AggregateCarton, AggregateID: "carton-2",
				EventType: domain.EventCartonShipped, Payload: []byte(`{"carton_id":"carton-2"}`),
			},
			wantKey: "carton-2",
		},
		{
			name: "unknown event falls back to message id",
			msg: domain.OutboxMessage{
				ID: "ob-4", EventType: "inventory.adjusted", Payload: []byte(`{}`),
			},
			wantKey: "ob-4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockProducer := mocks.NewSyncProducer(t, nil)
			mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				key, _ := msg.Key.Encode()
				if string(key) != tt.wantKey || headerValue(msg, HeaderOrderKey) != tt.wantKey {
					t.Errorf("key = %s, order header = %s, want %s", key, headerValue(msg, HeaderOrderKey), tt.wantKey)
				}
				if headerValue(msg, HeaderEventType) != tt.msg.EventType {
					t.Errorf("event type header = %s", headerValue(msg, HeaderEventType))
				}
				value, _ := msg.Value.Encode()
				var envelope Envelope
				if err := json.Unmarshal(value, &envelope); err != nil {
					t.Errorf("decode envelope: %v", err)
				}
				if envelope.ID != tt.msg.ID || string(envelope.Payload) != string(tt.msg.Payload) {
					t.Errorf("unexpected envelope: %+v", envelope)
				}
				return nil
			})

			publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, log.WithField("component", "kafka-outbox-test")), "")
			if err := publisher.Publish(tt.msg); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if err := mockProducer.Close(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestOutboxPublisher_Failures(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicLedgerEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID: "ob-5", AggregateType: domain.AggregateOrder, AggregateID: "order-234",
		EventType: domain.EventOrderShortShipped, Payload: []byte(`{"order_id":"order-234"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}

	if err := NewOutboxPublisher(nil, TopicLedgerEvents).Publish(domain.OutboxMessage{ID: "ob-6"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
