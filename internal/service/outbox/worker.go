package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 50 * time.Millisecond
	maxRetryDelay       = 30 * time.Second
)

// Результаты попыток для метрики доставки.
const (
	resultSent      = "sent"
	resultRetry     = "retry"
	resultFailed    = "failed"
	resultDLQFailed = "dlq_failed"
)

// DeadLetter кладётся в DLQ, когда событие не удалось опубликовать за все
// попытки. Payload хранит исходное событие без изменений.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

type settings struct {
	logger       *log.Entry
	metrics      *metrics.LedgerMetrics
	dlq          domain.OutboxPublisher
	routes       map[string]domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics включает метрики доставки и размера очереди.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDLQPublisher задаёт получателя DeadLetter.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.dlq = publisher }
}

// WithRoute отправляет события eventType в отдельный publisher, например
// carton.shipped в топик почтового сервиса.
func WithRoute(eventType string, publisher domain.OutboxPublisher) Option {
	return func(s *settings) {
		if s.routes == nil {
			s.routes = make(map[string]domain.OutboxPublisher)
		}
		s.routes[eventType] = publisher
	}
}

// WithPollInterval задаёт период опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

// WithBatchSize задаёт число записей за один опрос.
func WithBatchSize(size int) Option {
	return func(s *settings) { s.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации до failed.
func WithMaxAttempts(attempts int) Option {
	return func(s *settings) { s.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками, дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryDelay = delay }
}

// Report: итог одного прохода.
type Report struct {
	Sent   int
	Failed int
}

// Worker доставляет pending-записи outbox: события заказа и коробок уходят
// в publisher или в маршрут по типу события.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings
}

// NewWorker создаёт воркер. Некорректные значения опций заменяются значениями
// по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	s := settings{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryDelay,
	}
	for _, option := range options {
		option(&s)
	}

	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	s.retryDelay = max(s.retryDelay, 0)

	return &Worker{repo: repo, publisher: publisher, settings: s}
}

// Run опрашивает outbox до отмены ctx. Первый проход выполняется сразу.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if report := w.ProcessOnce(ctx); report.Failed > 0 {
			w.logger.WithFields(log.Fields{
				"sent":   report.Sent,
				"failed": report.Failed,
			}).Warn("outbox pass finished with failures")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает до batchSize записей и публикует их по очереди.
// Запись, не опубликованная за maxAttempts, уходит в DLQ и помечается failed,
// чтобы не блокировать остальные.
func (w *Worker) ProcessOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil {
		return report
	}
	defer w.observeBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
		})

		err := w.deliver(ctx, msg)
		if err != nil && ctx.Err() != nil {
			// остановка: запись остаётся pending до следующего запуска
			break
		}
		if err != nil {
			report.Failed++
			entry.WithError(err).Error("outbox publish failed after retries")
			w.metrics.RecordOutboxDelivery(msg.EventType, resultFailed)
			w.deadLetter(msg, err, entry)
			if err := w.repo.MarkFailed(msg.ID); err != nil {
				entry.WithError(err).Warn("failed to mark outbox as failed")
			}
			continue
		}

		report.Sent++
		if err := w.repo.MarkSent(msg.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox as sent")
		}
	}
	return report
}

// deliver публикует запись с паузами retryDelay, 2*retryDelay, ... между попытками.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	publisher := w.publisher
	if routed := w.routes[msg.EventType]; routed != nil {
		publisher = routed
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = publisher.Publish(msg); err == nil {
			w.metrics.RecordOutboxDelivery(msg.EventType, resultSent)
			return nil
		}
		w.metrics.RecordOutboxDelivery(msg.EventType, resultRetry)
		if attempt == w.maxAttempts {
			return fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
		}
		if err := pause(ctx, backoff(w.retryDelay, attempt)); err != nil {
			return err
		}
	}
}

func (w *Worker) deadLetter(msg domain.OutboxMessage, cause error, entry *log.Entry) {
	if w.dlq == nil {
		return
	}

	payload, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err == nil {
		dead := msg
		dead.Payload = payload
		err = w.dlq.Publish(dead)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordOutboxDelivery(msg.EventType, resultDLQFailed)
	}
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// backoff возвращает паузу после попытки attempt (с 1), не больше maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
