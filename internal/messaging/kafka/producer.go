package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "orderledger"

// ProducerConfig описывает подключение producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// Record: одно сообщение для отправки. Key выбирает партицию: для событий
// учёта это идентификатор заказа.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Headers []sarama.RecordHeader
}

// Delivery: куда легло отправленное сообщение.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer синхронно отправляет JSON-записи; порядок сохраняется в пределах ключа.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключает idempotent producer с хешированием ключа по партициям.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(sp, nil), nil
}

// producerConfig: acks от всех реплик и не больше одного запроса в полёте,
// иначе idempotent producer может переставить сообщения заказа.
func producerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = defaultClientID
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	return config
}

// NewProducerFromSync оборачивает готовый SyncProducer.
func NewProducerFromSync(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sp, logger: logger}
}

// Send кодирует Value в JSON и ждёт подтверждения брокера.
func (p *Producer) Send(rec Record) (Delivery, error) {
	value, err := json.Marshal(rec.Value)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode record for %s: %w", rec.Topic, err)
	}

	entry := p.logger.WithFields(log.Fields{"topic": rec.Topic, "key": rec.Key})
	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(value),
		Headers:   rec.Headers,
		Timestamp: time.Now(),
	})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return Delivery{}, fmt.Errorf("send to %s: %w", rec.Topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record sent")
	return Delivery{Partition: partition, Offset: offset}, nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}
