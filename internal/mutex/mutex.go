// Package mutex содержит реализации domain.OrderMutex: в памяти процесса,
// в Redis и на advisory-блокировках PostgreSQL.
package mutex

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

const defaultTTL = 30 * time.Second

type options struct {
	logger  *log.Entry
	metrics *metrics.LedgerMetrics
	ttl     time.Duration
}

// Option настраивает реализацию блокировки.
type Option func(*options)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики захвата.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTTL задаёт время жизни распределённой блокировки. Для памяти процесса игнорируется.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		logger: log.WithField("component", component),
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func lockFailed(o options, orderID string, cause error) error {
	o.metrics.RecordLockFailed()
	entry := o.logger.WithField("order_id", orderID)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("order lock is busy")
	if cause != nil {
		return fmt.Errorf("order %s: %w: %v", orderID, domain.ErrLockFailed, cause)
	}
	return fmt.Errorf("order %s: %w", orderID, domain.ErrLockFailed)
}
