package mutex

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

const advisoryTimeout = 5 * time.Second

// Postgres: блокировка через pg_try_advisory_lock на выделенном соединении.
// Advisory-блокировка сессионная, поэтому захват и снятие идут через один *sql.Conn.
type Postgres struct {
	db   *sql.DB
	opts options
}

var _ domain.OrderMutex = (*Postgres)(nil)

// NewPostgres создаёт блокировку поверх пула database/sql.
func NewPostgres(db *sql.DB, opts ...Option) *Postgres {
	return &Postgres{db: db, opts: buildOptions("order_mutex_postgres", opts)}
}

// WithLock захватывает advisory-блокировку hashtext(order_id) без ожидания.
func (p *Postgres) WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return lockFailed(p.opts, orderID, err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, advisoryTimeout)
	var acquired bool
	err = conn.QueryRowContext(lockCtx, `SELECT pg_try_advisory_lock(hashtext($1))`, orderID).Scan(&acquired)
	cancel()
	if err != nil {
		return lockFailed(p.opts, orderID, err)
	}
	if !acquired {
		return lockFailed(p.opts, orderID, nil)
	}
	p.opts.metrics.LockAcquired()
	defer p.release(conn, orderID)

	return fn(ctx)
}

func (p *Postgres) release(conn *sql.Conn, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), advisoryTimeout)
	defer cancel()

	p.opts.metrics.LockReleased()
	var released bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, orderID).Scan(&released); err != nil {
		p.opts.logger.WithError(err).WithField("order_id", orderID).Warn("failed to release advisory lock")
		return
	}
	if !released {
		p.opts.logger.WithField("order_id", orderID).Warn("advisory lock was not held")
	}
}
