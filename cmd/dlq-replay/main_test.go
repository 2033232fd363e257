package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-brokers", " b1:9092, ,b2:9092 ", "-event-type", "carton.shipped", "-execute"}, nil)
	if err != nil {
		t.Fatalf("parseOptions() error = %v", err)
	}
	if len(opts.brokers) != 2 || opts.brokers[1] != "b2:9092" {
		t.Fatalf("unexpected brokers: %v", opts.brokers)
	}
	if !opts.execute || opts.eventType != domain.EventCartonShipped {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.sourceTopic != kafka.TopicDeadLetterQueue || opts.targetTopic != kafka.TopicLedgerEvents {
		t.Fatalf("unexpected default topics: %+v", opts)
	}

	fromEnv, err := parseOptions(nil, []string{"env:9092"})
	if err != nil || len(fromEnv.brokers) != 1 {
		t.Fatalf("expected brokers from config, got %+v err=%v", fromEnv, err)
	}

	for _, args := range [][]string{
		{},
		{"-brokers", "b:1", "-limit", "0"},
		{"-brokers", "b:1", "-idle-timeout", "0s"},
		{"-brokers", "b:1", "-target-topic", " "},
	} {
		if _, err := parseOptions(args, nil); err == nil {
			t.Fatalf("expected error for args %v", args)
		}
	}
}

func consumerDeadLetter(t *testing.T, eventType string) []byte {
	t.Helper()
	original, err := json.Marshal(kafka.Envelope{ID: "m-1", AggregateID: "c-1", EventType: eventType, Payload: json.RawMessage(`{"carton_id":"c-1"}`)})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(kafka.DeadLetter{OriginalTopic: "ledger.mailer", OriginalKey: "c-1", OriginalValue: string(original)})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func outboxDeadLetterValue(t *testing.T, nested json.RawMessage) []byte {
	t.Helper()
	payload, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "ob-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "o-1",
		EventType:     domain.EventOrderShortShipped,
		Payload:       nested,
		PublishError:  "timeout",
	})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(kafka.Envelope{ID: "ob-1", AggregateID: "o-1", EventType: domain.EventOrderShortShipped, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestDecodeDeadLetter(t *testing.T) {
	t.Run("consumer dead letter", func(t *testing.T) {
		got, ok, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: consumerDeadLetter(t, domain.EventCartonShipped)}, kafka.TopicLedgerEvents)
		if err != nil || !ok {
			t.Fatalf("decodeDeadLetter() ok=%v err=%v", ok, err)
		}
		if got.topic != "ledger.mailer" || got.key != "c-1" || got.eventType != domain.EventCartonShipped {
			t.Fatalf("unexpected replay: %+v", got)
		}
	})

	t.Run("outbox dead letter keyed by order", func(t *testing.T) {
		got, ok, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: outboxDeadLetterValue(t, json.RawMessage(`{"order_id":"o-9","total":"10.00"}`))}, kafka.TopicLedgerEvents)
		if err != nil || !ok {
			t.Fatalf("decodeDeadLetter() ok=%v err=%v", ok, err)
		}
		if got.key != "o-9" {
			t.Fatalf("replay key = %q, want order o-9", got.key)
		}
	})

	t.Run("outbox dead letter", func(t *testing.T) {
		got, ok, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: outboxDeadLetterValue(t, json.RawMessage(`{"total":"10.00"}`))}, kafka.TopicLedgerEvents)
		if err != nil || !ok {
			t.Fatalf("decodeDeadLetter() ok=%v err=%v", ok, err)
		}
		if got.topic != kafka.TopicLedgerEvents || got.key != "o-1" {
			t.Fatalf("unexpected replay: %+v", got)
		}
		var envelope kafka.Envelope
		if err := json.Unmarshal(got.value, &envelope); err != nil {
			t.Fatalf("replayed value is not an envelope: %v", err)
		}
		if envelope.ID != "ob-1" || string(envelope.Payload) != `{"total":"10.00"}` {
			t.Fatalf("unexpected envelope: %+v", envelope)
		}
	})

	t.Run("outbox dead letter without payload", func(t *testing.T) {
		_, ok, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: outboxDeadLetterValue(t, nil)}, kafka.TopicLedgerEvents)
		if err == nil || ok {
			t.Fatalf("expected error, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("unknown payload", func(t *testing.T) {
		_, ok, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, kafka.TopicLedgerEvents)
		if err != nil || ok {
			t.Fatalf("expected skip, got ok=%v err=%v", ok, err)
		}
	})
}

type fakeClient struct {
	newest map[int32]int64
}

func (c fakeClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return 0, nil
	}
	return c.newest[partition], nil
}

func (c fakeClient) Partitions(string) ([]int32, error) {
	out := make([]int32, 0, len(c.newest))
	for p := range c.newest {
		out = append(out, p)
	}
	return out, nil
}

type fakePartition struct {
	sarama.PartitionConsumer
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func (p *fakePartition) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *fakePartition) Errors() <-chan *sarama.ConsumerError     { return p.errs }
func (p *fakePartition) Close() error                             { return nil }

type fakeSource map[int32][][]byte

func (s fakeSource) ConsumePartition(_ string, partition int32, _ int64) (sarama.PartitionConsumer, error) {
	values, ok := s[partition]
	if !ok {
		return nil, errors.New("unknown partition")
	}
	pc := &fakePartition{
		messages: make(chan *sarama.ConsumerMessage, len(values)),
		errs:     make(chan *sarama.ConsumerError),
	}
	for i, value := range values {
		pc.messages <- &sarama.ConsumerMessage{Partition: partition, Offset: int64(i), Value: value}
	}
	return pc, nil
}

func newTestReplayer(opts options, source fakeSource, producer sarama.SyncProducer) *replayer {
	newest := map[int32]int64{}
	for p, values := range source {
		newest[p] = int64(len(values))
	}
	opts.sourceTopic = kafka.TopicDeadLetterQueue
	opts.targetTopic = kafka.TopicLedgerEvents
	if opts.limit == 0 {
		opts.limit = defaultReplayLimit
	}
	opts.idleTimeout = time.Second
	return &replayer{
		opts:     opts,
		client:   fakeClient{newest: newest},
		source:   source,
		producer: producer,
		logger:   log.WithField("test", "dlq-replay"),
	}
}

func TestReplayer_DryRun(t *testing.T) {
	source := fakeSource{
		0: {consumerDeadLetter(t, domain.EventCartonShipped), []byte(`{"foo":"bar"}`)},
		1: {outboxDeadLetterValue(t, json.RawMessage(`{}`))},
	}
	stats, err := newTestReplayer(options{}, source, nil).run(context.Background())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if stats != (replayStats{scanned: 3, replayed: 2, skipped: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReplayer_ExecuteFiltersEventType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "ledger.mailer" {
			t.Errorf("expected original topic, got %s", msg.Topic)
		}
		return nil
	})

	source := fakeSource{0: {
		consumerDeadLetter(t, domain.EventCartonShipped),
		outboxDeadLetterValue(t, json.RawMessage(`{}`)),
	}}
	r := newTestReplayer(options{execute: true, eventType: domain.EventCartonShipped}, source, producer)
	stats, err := r.run(context.Background())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if stats.replayed != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	_, err := newTestReplayer(options{execute: true}, fakeSource{}, nil).run(context.Background())
	if err == nil {
		t.Fatal("expected error without producer")
	}
}

func TestReplayer_RespectsLimit(t *testing.T) {
	source := fakeSource{
		0: {consumerDeadLetter(t, domain.EventCartonShipped), consumerDeadLetter(t, domain.EventCartonShipped)},
		1: {consumerDeadLetter(t, domain.EventCartonShipped)},
	}
	stats, err := newTestReplayer(options{limit: 2}, source, nil).run(context.Background())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if stats.scanned != 2 {
		t.Fatalf("expected 2 scanned, got %+v", stats)
	}
}

func TestReplayer_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	source := fakeSource{0: {consumerDeadLetter(t, domain.EventCartonShipped)}}
	_, err := newTestReplayer(options{execute: true}, source, producer).run(context.Background())
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected publish error, got %v", err)
	}
}
