package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

const consumerMaxRetries = 3

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitList(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokerList})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// outboxRouting описывает публикацию outbox: основной publisher и маршруты.
type outboxRouting struct {
	publisher domain.OutboxPublisher
	options   []outbox.Option
}

// kafkaOutboxRouting публикует события в ledger.events, письма об отгрузке
// при заданном mailerTopic уходят в отдельный топик, а исчерпавшие попытки в DLQ.
func kafkaOutboxRouting(producer *kafka.Producer, mailerTopic string) outboxRouting {
	routing := outboxRouting{
		publisher: kafka.NewOutboxPublisher(producer, kafka.TopicLedgerEvents),
		options: []outbox.Option{
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		},
	}
	if mailerTopic != "" {
		routing.options = append(routing.options,
			outbox.WithRoute(domain.EventCartonShipped, kafka.NewOutboxPublisher(producer, mailerTopic)))
	}
	return routing
}

// initCartonConsumer подписывает захват коробок на carton.shipped из ledger.events.
func initCartonConsumer(cfg Config, producer *kafka.Producer, capturer kafka.CartonCapturer, logger *log.Entry) (*kafka.Consumer, error) {
	topic := kafka.TopicLedgerEvents
	if cfg.KafkaMailerTopic != "" {
		topic = cfg.KafkaMailerTopic
	}
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.Brokers(),
		GroupID:    cfg.KafkaConsumerGroup,
		Topics:     []string{topic},
		DLQ:        producer,
		MaxRetries: consumerMaxRetries,
	}, kafka.NewCartonShippedHandler(capturer, logger.WithField("component", "carton-shipped-handler")))
}

// closeKafka закрывает producer, если он создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
