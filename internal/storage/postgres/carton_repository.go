package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type cartonRepository struct {
	db *sql.DB
}

// NewCartonRepository создаёт PostgreSQL-реализацию CartonRepository.
func NewCartonRepository(store *Store) domain.CartonRepository {
	return &cartonRepository{db: store.DB()}
}

// Create в одной транзакции сохраняет заказ, коробку с её единицами и
// события outbox.
func (r *cartonRepository) Create(carton domain.Carton, order domain.Order, events ...domain.OutboxMessage) (err error) {
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

	if err = saveOrderTx(ctx, tx, order); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO cartons (
			id, number, order_id, stock_location_id, shipping_method_id, address_id,
			tracking, shipped_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		carton.ID, carton.Number, carton.OrderID, carton.StockLocationID, carton.ShippingMethodID,
		carton.AddressID, carton.Tracking, carton.ShippedAt, carton.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert carton: %w", err)
	}

	for i, unit := range carton.Units {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO carton_units (carton_id, order_id, inventory_unit_id, position)
			VALUES ($1,$2,$3,$4)
		`, carton.ID, unit.OrderID, unit.InventoryUnitID, i); err != nil {
			return fmt.Errorf("insert carton unit %s: %w", unit.InventoryUnitID, err)
		}
	}
	for _, msg := range events {
		if _, err = insertOutbox(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create carton: %w", err)
	}
	return nil
}

func (r *cartonRepository) Get(id string) (domain.Carton, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	carton, err := scanCarton(r.db.QueryRowContext(ctx, selectCartonColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Carton{}, domain.ErrCartonNotFound
		}
		return domain.Carton{}, fmt.Errorf("select carton: %w", err)
	}
	if carton.Units, err = loadCartonUnits(ctx, r.db, carton.ID); err != nil {
		return domain.Carton{}, err
	}
	return carton, nil
}

// ListByOrder возвращает коробки, в которых есть единицы заказа.
func (r *cartonRepository) ListByOrder(orderID string) ([]domain.Carton, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectCartonColumns+`
		WHERE id IN (SELECT carton_id FROM carton_units WHERE order_id = $1)
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list cartons: %w", err)
	}
	defer rows.Close()

	cartons := make([]domain.Carton, 0)
	for rows.Next() {
		carton, err := scanCarton(rows)
		if err != nil {
			return nil, fmt.Errorf("scan carton: %w", err)
		}
		cartons = append(cartons, carton)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cartons: %w", err)
	}

	for i := range cartons {
		if cartons[i].Units, err = loadCartonUnits(ctx, r.db, cartons[i].ID); err != nil {
			return nil, err
		}
	}
	return cartons, nil
}

const selectCartonColumns = `
	SELECT id, number, order_id, stock_location_id, shipping_method_id, address_id,
	       tracking, shipped_at, created_at
	FROM cartons`

func scanCarton(row rowScanner) (domain.Carton, error) {
	var c domain.Carton
	err := row.Scan(
		&c.ID, &c.Number, &c.OrderID, &c.StockLocationID, &c.ShippingMethodID, &c.AddressID,
		&c.Tracking, &c.ShippedAt, &c.CreatedAt,
	)
	return c, err
}

func loadCartonUnits(ctx context.Context, q querier, cartonID string) ([]domain.CartonUnit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, inventory_unit_id
		FROM carton_units
		WHERE carton_id = $1
		ORDER BY position ASC
	`, cartonID)
	if err != nil {
		return nil, fmt.Errorf("load carton units: %w", err)
	}
	defer rows.Close()

	units := make([]domain.CartonUnit, 0)
	for rows.Next() {
		var unit domain.CartonUnit
		if err := rows.Scan(&unit.OrderID, &unit.InventoryUnitID); err != nil {
			return nil, fmt.Errorf("scan carton unit: %w", err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate carton units: %w", err)
	}
	return units, nil
}

var _ domain.CartonRepository = (*cartonRepository)(nil)
