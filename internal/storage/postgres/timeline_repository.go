package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию журнала заказа.
// Seq события равен id строки timeline_events.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append пишет пачку событий в одной транзакции.
func (r *timelineRepository) Append(events ...domain.TimelineEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, event := range events {
		if event.Occurred.IsZero() {
			event.Occurred = now
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO timeline_events (order_id, type, reason, previous, next, occurred)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, event.OrderID, event.Type, event.Reason, event.Previous, event.Next, event.Occurred); err != nil {
			return fmt.Errorf("append %s event for order %s: %w", event.Type, event.OrderID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit timeline events: %w", err)
	}
	return nil
}

// List читает журнал заказа; types превращаются в фильтр type IN (...).
func (r *timelineRepository) List(orderID string, types ...string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query, args := timelineQuery(orderID, types)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.Seq, &event.OrderID, &event.Type, &event.Reason,
			&event.Previous, &event.Next, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

func timelineQuery(orderID string, types []string) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, order_id, type, reason, previous, next, occurred
		FROM timeline_events
		WHERE order_id = $1`)
	args := []any{orderID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, eventType := range types {
			args = append(args, eventType)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		b.WriteString(` AND type IN (` + strings.Join(placeholders, ",") + `)`)
	}
	b.WriteString(` ORDER BY occurred, id`)
	return b.String(), args
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
