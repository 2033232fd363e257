package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

// Move блокирует складскую позицию, пишет движение и обновляет остаток.
func (r *stockRepository) Move(locationID, variantID string, quantity int, originator string) (_ domain.StockMovement, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var itemID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM stock_items
		WHERE stock_location_id = $1 AND variant_id = $2
		FOR UPDATE
	`, locationID, variantID).Scan(&itemID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if quantity < 1 {
			err = domain.ErrInvalidMovement
			return domain.StockMovement{}, err
		}
		itemID = uuid.NewString()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO stock_items (id, stock_location_id, variant_id, backorderable, count_on_hand)
			VALUES ($1,$2,$3,FALSE,0)
		`, itemID, locationID, variantID); err != nil {
			return domain.StockMovement{}, fmt.Errorf("insert stock item: %w", err)
		}
	case err != nil:
		return domain.StockMovement{}, fmt.Errorf("lock stock item: %w", err)
	}

	movement := domain.StockMovement{
		ID:              uuid.NewString(),
		StockItemID:     itemID,
		StockLocationID: locationID,
		VariantID:       variantID,
		Quantity:        quantity,
		Originator:      originator,
		CreatedAt:       time.Now().UTC(),
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, stock_item_id, quantity, originator, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, movement.ID, itemID, quantity, originator, movement.CreatedAt); err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert stock movement: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE stock_items SET count_on_hand = count_on_hand + $2 WHERE id = $1
	`, itemID, quantity); err != nil {
		return domain.StockMovement{}, fmt.Errorf("update count on hand: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.StockMovement{}, fmt.Errorf("commit stock movement: %w", err)
	}
	return movement, nil
}

func (r *stockRepository) StockItem(locationID, variantID string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var item domain.StockItem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, stock_location_id, variant_id, backorderable, count_on_hand
		FROM stock_items
		WHERE stock_location_id = $1 AND variant_id = $2
	`, locationID, variantID).Scan(&item.ID, &item.StockLocationID, &item.VariantID, &item.Backorderable, &item.CountOnHand)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return item, nil
}

// UpsertStockItem не трогает count_on_hand существующей позиции.
func (r *stockRepository) UpsertStockItem(item domain.StockItem) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	var stored domain.StockItem
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO stock_items (id, stock_location_id, variant_id, backorderable, count_on_hand)
		VALUES ($1,$2,$3,$4,0)
		ON CONFLICT (stock_location_id, variant_id) DO UPDATE
		SET backorderable = EXCLUDED.backorderable
		RETURNING id, stock_location_id, variant_id, backorderable, count_on_hand
	`, item.ID, item.StockLocationID, item.VariantID, item.Backorderable).Scan(
		&stored.ID, &stored.StockLocationID, &stored.VariantID, &stored.Backorderable, &stored.CountOnHand,
	)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("upsert stock item: %w", err)
	}
	return stored, nil
}

func (r *stockRepository) Movements(locationID, variantID string) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.stock_item_id, i.stock_location_id, i.variant_id, m.quantity, m.originator, m.created_at
		FROM stock_movements m
		JOIN stock_items i ON i.id = m.stock_item_id
		WHERE i.stock_location_id = $1 AND i.variant_id = $2
		ORDER BY m.created_at ASC, m.id ASC
	`, locationID, variantID)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.StockItemID, &m.StockLocationID, &m.VariantID, &m.Quantity, &m.Originator, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
