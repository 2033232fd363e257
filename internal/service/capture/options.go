// Package capture списывает оплату за отгруженные коробки и за заказы целиком.
package capture

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/ledger"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
)

// Recalculator пересчитывает заказ в памяти и пишет события timeline после сохранения.
type Recalculator interface {
	Recalculate(ctx context.Context, order *domain.Order) ([]domain.TimelineEvent, error)
	RecordEvents(events []domain.TimelineEvent)
}

type settings struct {
	logger     *log.Entry
	metrics    *metrics.LedgerMetrics
	events     *outbox.Emitter
	calculator ledger.AmountCalculator
	now        func() time.Time
	newID      func() string
}

// Option настраивает компоненты пакета.
type Option func(*settings)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики захвата.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithEmitter включает события carton.captured и payment.capture_shortfall.
func WithEmitter(e *outbox.Emitter) Option {
	return func(s *settings) {
		s.events = e
	}
}

// WithCalculator подменяет расчёт долей единицы.
func WithCalculator(calc ledger.AmountCalculator) Option {
	return func(s *settings) {
		if calc != nil {
			s.calculator = calc
		}
	}
}

// WithNow подменяет часы.
func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func buildSettings(component string, opts []Option) settings {
	s := settings{
		logger:     log.WithField("component", component),
		calculator: ledger.Default{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// withLocks берёт блокировки всех заказов в порядке возрастания ID.
func withLocks(ctx context.Context, mutex domain.OrderMutex, orderIDs []string, fn func(ctx context.Context) error) error {
	ids := slices.Clone(orderIDs)
	sort.Strings(ids)
	ids = slices.Compact(ids)

	var lock func(ctx context.Context, rest []string) error
	lock = func(ctx context.Context, rest []string) error {
		if len(rest) == 0 {
			return fn(ctx)
		}
		return mutex.WithLock(ctx, rest[0], func(ctx context.Context) error {
			return lock(ctx, rest[1:])
		})
	}
	return lock(ctx, ids)
}
