package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение топика.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig описывает подписку группы.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// DLQ получает DeadLetter после MaxRetries неудач. Без него сообщение
	// остаётся неподтверждённым и будет перечитано.
	DLQ        *Producer
	MaxRetries int
	RetryDelay time.Duration
}

// Consumer читает топики группой, повторяет обработку и переносит
// необработанные сообщения в ledger.dlq.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer подключает группу к брокерам. Офсеты новой группы начинаются
// с самого старого сообщения, чтобы не потерять carton.shipped.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer needs at least one topic")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}

	return &Consumer{
		consumer:    group,
		topics:      cfg.Topics,
		handler:     handler,
		logger:      log.WithFields(log.Fields{"component": "kafka-consumer", "group": cfg.GroupID}),
		dlqProducer: cfg.DLQ,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// Start запускает цикл чтения и логирование ошибок группы в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim подтверждает сообщение после успешной обработки или переноса в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.handleMessageWithRetry(ctx, message); err != nil {
				entry.WithError(err).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// handleMessageWithRetry тратит остаток бюджета попыток: maxRetries минус
// значение x-retry-count, но не меньше одной.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	spent := retryCountOf(message)
	budget := max(c.maxRetries-spent, 1)

	var err error
	for attempt := range budget {
		if attempt > 0 {
			if waitErr := c.backoff(ctx, attempt); waitErr != nil {
				return waitErr
			}
		}
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": spent + attempt,
		}).Warn("message handling failed")
	}

	if spent+budget < c.maxRetries || c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		return fmt.Errorf("move to DLQ: %w", dlqErr)
	}
	c.logger.WithField("topic", message.Topic).Info("message moved to DLQ")
	return nil
}

// backoff ждёт retryDelay * 2^(attempt-1).
func (c *Consumer) backoff(ctx context.Context, attempt int) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.retryDelay << (attempt - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryCountOf(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, cause error) error {
	dead := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          time.Now().UTC(),
		RetryCount:        max(retryCountOf(message), c.maxRetries),
	}
	_, err := c.dlqProducer.Send(Record{
		Topic:   TopicDeadLetterQueue,
		Key:     dead.OriginalKey,
		Value:   dead,
		Headers: dead.headers(),
	})
	return err
}

func (d DeadLetter) headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		header(HeaderOriginalTopic, d.OriginalTopic),
		header(HeaderErrorMessage, d.ErrorMessage),
		header(HeaderFailedAt, d.FailedAt.Format(time.RFC3339)),
		header(HeaderRetryCount, strconv.Itoa(d.RetryCount)),
	}
}
