package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type captureRepository struct {
	db *sql.DB
}

// NewCaptureRepository создаёт PostgreSQL-реализацию CaptureRepository.
func NewCaptureRepository(store *Store) domain.CaptureRepository {
	return &captureRepository{db: store.DB()}
}

// Create сохраняет захват коробки и все изменённые заказы одной транзакцией.
// Конфликт версии любого заказа откатывает всё.
func (r *captureRepository) Create(capture domain.CartonCapture, orders []domain.Order) (err error) {
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

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO carton_captures (id, carton_id, captured_at)
		VALUES ($1,$2,$3)
	`, capture.ID, capture.CartonID, capture.CapturedAt); err != nil {
		return fmt.Errorf("insert carton capture: %w", err)
	}

	// захваты единиц пишутся вместе с заказами
	for _, order := range orders {
		if err = saveOrderTx(ctx, tx, order); err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit carton capture: %w", err)
	}
	return nil
}

func (r *captureRepository) ListByCarton(cartonID string) ([]domain.CartonCapture, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, carton_id, captured_at
		FROM carton_captures
		WHERE carton_id = $1
		ORDER BY captured_at ASC, id ASC
	`, cartonID)
	if err != nil {
		return nil, fmt.Errorf("list carton captures: %w", err)
	}
	defer rows.Close()

	captures := make([]domain.CartonCapture, 0)
	for rows.Next() {
		var c domain.CartonCapture
		if err := rows.Scan(&c.ID, &c.CartonID, &c.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan carton capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate carton captures: %w", err)
	}

	for i := range captures {
		units, err := loadUnitCaptures(ctx, r.db, `WHERE carton_capture_id = $1`, captures[i].ID)
		if err != nil {
			return nil, err
		}
		captures[i].Captures = units
	}
	return captures, nil
}

var _ domain.CaptureRepository = (*captureRepository)(nil)
