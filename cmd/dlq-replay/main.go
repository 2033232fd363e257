package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/app"
	"github.com/vladislavdragonenkov/orderledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// replayMessage: восстановленное исходное сообщение.
type replayMessage struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

// replayer перечитывает DLQ и возвращает сообщения в исходные топики.
type replayer struct {
	opts     options
	client   offsetClient
	source   partitionSource
	producer sarama.SyncProducer
	logger   *log.Entry
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func parseOptions(args []string, defaultBrokers []string) (options, error) {
	opts := options{}
	var brokers string

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicLedgerEvents, "topic for outbox dead letters")
	fs.StringVar(&opts.eventType, "event-type", "", "replay only this event type, e.g. carton.shipped")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.brokers = defaultBrokers
	if strings.TrimSpace(brokers) != "" {
		opts.brokers = nil
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				opts.brokers = append(opts.brokers, broker)
			}
		}
	}

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(opts.sourceTopic) == "" || strings.TrimSpace(opts.targetTopic) == "":
		return options{}, errors.New("source-topic and target-topic are required")
	case opts.limit <= 0:
		return options{}, errors.New("limit must be > 0")
	case opts.idleTimeout <= 0:
		return options{}, errors.New("idle-timeout must be > 0")
	}
	return opts, nil
}

// decodeDeadLetter восстанавливает исходное сообщение из записи DLQ.
// Понимает оба формата: DeadLetter консьюмера и конверт outbox-воркера.
// ok=false означает запись без исходного сообщения.
func decodeDeadLetter(msg *sarama.ConsumerMessage, targetTopic string) (replayMessage, bool, error) {
	var dead kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &dead); err == nil && dead.OriginalValue != "" {
		replay := replayMessage{
			topic: strings.TrimSpace(dead.OriginalTopic),
			key:   dead.OriginalKey,
			value: []byte(dead.OriginalValue),
		}
		if replay.topic == "" {
			replay.topic = targetTopic
		}
		var original kafka.Envelope
		if err := json.Unmarshal(replay.value, &original); err == nil {
			replay.eventType = original.EventType
		}
		return replay, true, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}
	var outboxDead outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &outboxDead); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(outboxDead.Payload) == 0 {
		return replayMessage{}, false, errors.New("outbox dead letter has no original payload")
	}

	original := kafka.Envelope{
		ID:            firstNonEmpty(outboxDead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(outboxDead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(outboxDead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(outboxDead.EventType, envelope.EventType),
		Payload:       outboxDead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(original)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode envelope: %w", err)
	}
	return replayMessage{
		topic:     targetTopic,
		key:       kafka.PartitionKey(original.EventType, original.Payload, firstNonEmpty(original.AggregateID, original.ID)),
		eventType: original.EventType,
		value:     value,
	}, true, nil
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.opts.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("partitions of %s: %w", r.opts.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.scanned >= r.opts.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.opts.limit-total.scanned)
		total.scanned += stats.scanned
		total.replayed += stats.replayed
		total.skipped += stats.skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":  r.opts.execute,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := r.source.ConsumePartition(r.opts.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)
			stats.scanned++

			if err := r.replayOne(msg); err != nil {
				if errors.Is(err, errSkipped) {
					stats.skipped++
				} else {
					return stats, err
				}
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

var errSkipped = errors.New("skipped")

func (r *replayer) replayOne(msg *sarama.ConsumerMessage) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := decodeDeadLetter(msg, r.opts.targetTopic)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dead letter")
		return errSkipped
	}
	if !ok || (r.opts.eventType != "" && replay.eventType != r.opts.eventType) {
		return errSkipped
	}

	entry = entry.WithFields(log.Fields{"topic": replay.topic, "key": replay.key, "event_type": replay.eventType})
	if !r.opts.execute {
		entry.Info("dlq replay candidate")
		return nil
	}

	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     replay.topic,
		Key:       sarama.StringEncoder(replay.key),
		Value:     sarama.ByteEncoder(replay.value),
		Headers:   []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(replay.eventType)}},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish replay: %w", err)
	}
	entry.Debug("dead letter replayed")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-replay")

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	opts, err := parseOptions(os.Args[1:], cfg.Brokers())
	if err != nil {
		logger.WithError(err).Fatal("некорректные аргументы")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true

	client, err := sarama.NewClient(opts.brokers, saramaCfg)
	if err != nil {
		logger.WithError(err).Fatal("не удалось подключиться к kafka")
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		logger.WithError(err).Fatal("не удалось создать consumer")
	}
	defer func() { _ = consumer.Close() }()

	r := &replayer{opts: opts, client: client, source: consumer, logger: logger}
	if opts.execute {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			logger.WithError(err).Fatal("не удалось создать producer")
		}
		defer func() { _ = producer.Close() }()
		r.producer = producer
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := r.run(ctx); err != nil {
		logger.WithError(err).Error("dlq replay failed")
		os.Exit(1)
	}
}
