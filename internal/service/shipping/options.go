// Package shipping отвечает за отгрузку: побочные эффекты автомата отгрузки
// на складе, создание коробок и уведомление об отправке.
package shipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

// CartonNumberPrefix: префикс номера коробки.
const CartonNumberPrefix = "C"

// Recalculator пересчитывает заказ в памяти и пишет события timeline после сохранения.
type Recalculator interface {
	Recalculate(ctx context.Context, order *domain.Order) ([]domain.TimelineEvent, error)
	RecordEvents(events []domain.TimelineEvent)
}

type settings struct {
	logger    *log.Entry
	metrics   *metrics.LedgerMetrics
	now       func() time.Time
	newID     func() string
	newNumber func() string
}

// Option настраивает сервисы пакета.
type Option func(*settings)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *settings) {
		s.metrics = m
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

// WithIDGenerator подменяет генератор идентификаторов коробок.
func WithIDGenerator(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithNumberGenerator подменяет генератор номеров коробок.
func WithNumberGenerator(fn func() string) Option {
	return func(s *settings) {
		if fn != nil {
			s.newNumber = fn
		}
	}
}

func buildSettings(component string, opts []Option) settings {
	s := settings{
		logger:    log.WithField("component", component),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		newNumber: func() string { return CartonNumberPrefix + ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
