package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

func TestProducerConfig_KeepsOrderPerKey(t *testing.T) {
	config := producerConfig("")
	if config.ClientID != defaultClientID {
		t.Fatalf("client id = %q, want %q", config.ClientID, defaultClientID)
	}
	if !config.Producer.Idempotent || config.Net.MaxOpenRequests != 1 || config.Producer.RequiredAcks != sarama.WaitForAll {
		t.Fatalf("producer must be idempotent with a single in-flight request: %+v", config.Producer)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("config is invalid: %v", err)
	}

	// хеш-партиционер отправляет один ключ в одну партицию
	partitioner := config.Producer.Partitioner(TopicLedgerEvents)
	first, err := partitioner.Partition(&sarama.ProducerMessage{Key: sarama.StringEncoder("order-1")}, 12)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}
	for range 5 {
		again, _ := partitioner.Partition(&sarama.ProducerMessage{Key: sarama.StringEncoder("order-1")}, 12)
		if again != first {
			t.Fatalf("same order key landed in partitions %d and %d", first, again)
		}
	}

	if named := producerConfig("ledger-api"); named.ClientID != "ledger-api" {
		t.Fatalf("client id = %q, want ledger-api", named.ClientID)
	}
}

func TestProducer_Send(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		sendErr error
		wantErr bool
	}{
		{name: "delivered", value: domain.CartonShippedEvent{CartonID: "carton-1", OrderID: "order-1"}},
		{name: "broker failure", value: domain.CartonShippedEvent{CartonID: "carton-1"}, sendErr: sarama.ErrOutOfBrokers, wantErr: true},
		{name: "value cannot be encoded", value: make(chan int), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockProducer := mocks.NewSyncProducer(t, nil)
			producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test"))

			switch {
			case tt.sendErr != nil:
				mockProducer.ExpectSendMessageAndFail(tt.sendErr)
			case !tt.wantErr:
				mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
					key, _ := msg.Key.Encode()
					value, _ := msg.Value.Encode()
					var decoded domain.CartonShippedEvent
					if string(key) != "order-1" || json.Unmarshal(value, &decoded) != nil || decoded.CartonID != "carton-1" {
						t.Errorf("unexpected message key=%s value=%s", key, value)
					}
					return nil
				})
			}

			_, err := producer.Send(Record{Topic: TopicLedgerEvents, Key: "order-1", Value: tt.value})
			if tt.wantErr != (err != nil) {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mockProducer.Close(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestDeadLetter_JSON(t *testing.T) {
	data, err := json.Marshal(DeadLetter{OriginalTopic: TopicLedgerEvents, RetryCount: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["original_topic"] != TopicLedgerEvents || decoded["retry_count"] != float64(3) {
		t.Fatalf("unexpected dead letter json: %s", data)
	}
}
