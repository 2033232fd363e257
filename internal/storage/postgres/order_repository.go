package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

// querier: общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// orderDetails: дочерние сущности заказа, которые не запрашиваются отдельно.
type orderDetails struct {
	LineItems      []domain.LineItem           `json:"line_items"`
	InventoryUnits []domain.InventoryUnit      `json:"inventory_units"`
	Shipments      []domain.Shipment           `json:"shipments"`
	Payments       []domain.Payment            `json:"payments"`
	Promotions     []domain.OrderPromotion     `json:"promotions"`
	StockLocations []domain.OrderStockLocation `json:"stock_locations"`
}

const selectOrderColumns = `
	SELECT id, number, user_id, email, state, currency, payment_state, shipment_state,
	       item_total, shipment_total, adjustment_total, promo_total,
	       included_tax_total, additional_tax_total, payment_total, total, item_count,
	       details, version, completed_at, created_at, updated_at
	FROM orders`

// OrderRepository: PostgreSQL-реализация OrderRepository и PromotionUsageCounter.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB()}
}

func (r *OrderRepository) Create(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	details, err := marshalDetails(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, user_id, email, state, currency, payment_state, shipment_state,
			item_total, shipment_total, adjustment_total, promo_total,
			included_tax_total, additional_tax_total, payment_total, total, item_count,
			details, version, completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`,
		order.ID, order.Number, order.UserID, order.Email, string(order.State), order.Currency,
		string(order.PaymentState), string(order.ShipmentState),
		order.ItemTotal, order.ShipmentTotal, order.AdjustmentTotal, order.PromoTotal,
		order.IncludedTaxTotal, order.AdditionalTaxTotal, order.PaymentTotal, order.Total, order.ItemCount,
		details, order.Version, nullTime(order.CompletedAt), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = writeLedgerRows(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := loadLedgerRows(ctx, r.db, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) Save(order domain.Order) (err error) {
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
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func (r *OrderRepository) ListCapturable(limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := selectOrderColumns + `
		WHERE state = 'complete' AND payment_state = 'balance_due'
		ORDER BY completed_at ASC, id ASC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list capturable orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := loadLedgerRows(ctx, r.db, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateTotals переписывает вычисленное конвейером без смены версии: колонки
// итогов, позиции и отгрузки в details, корректировки целиком.
func (r *OrderRepository) UpdateTotals(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lineItems, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("encode order %s line items: %w", order.ID, err)
	}
	shipments, err := json.Marshal(order.Shipments)
	if err != nil {
		return fmt.Errorf("encode order %s shipments: %w", order.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET item_total = $2,
		    shipment_total = $3,
		    adjustment_total = $4,
		    promo_total = $5,
		    included_tax_total = $6,
		    additional_tax_total = $7,
		    payment_total = $8,
		    total = $9,
		    item_count = $10,
		    payment_state = $11,
		    shipment_state = $12,
		    updated_at = $13,
		    details = jsonb_set(jsonb_set(details, '{line_items}', $14::jsonb), '{shipments}', $15::jsonb)
		WHERE id = $1
	`,
		order.ID, order.ItemTotal, order.ShipmentTotal, order.AdjustmentTotal, order.PromoTotal,
		order.IncludedTaxTotal, order.AdditionalTaxTotal, order.PaymentTotal, order.Total, order.ItemCount,
		string(order.PaymentState), string(order.ShipmentState), order.UpdatedAt,
		lineItems, shipments,
	)
	if err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrOrderNotFound
		return err
	}

	if err = replaceAdjustments(ctx, tx, order); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order totals: %w", err)
	}
	return nil
}

// PromotionCredits считает eligible промо-корректировки от actionIDs по всем заказам.
func (r *OrderRepository) PromotionCredits(actionIDs []string, codeID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM adjustments
		WHERE source_kind = 'promotion_action'
		  AND eligible
		  AND source_id = ANY($1)
		  AND ($2 = '' OR promotion_code_id = $2)
	`, actionIDs, codeID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count promotion credits: %w", err)
	}
	return count, nil
}

// saveOrderTx обновляет заказ с проверкой версии и переписывает корректировки.
// Отмены и захваты единиц неизменяемы и только дописываются.
func saveOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	details, err := marshalDetails(order)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET number = $1,
		    user_id = $2,
		    email = $3,
		    state = $4,
		    currency = $5,
		    payment_state = $6,
		    shipment_state = $7,
		    item_total = $8,
		    shipment_total = $9,
		    adjustment_total = $10,
		    promo_total = $11,
		    included_tax_total = $12,
		    additional_tax_total = $13,
		    payment_total = $14,
		    total = $15,
		    item_count = $16,
		    details = $17,
		    completed_at = $18,
		    updated_at = $19,
		    version = version + 1
		WHERE id = $20
		  AND version = $21
	`,
		order.Number, order.UserID, order.Email, string(order.State), order.Currency,
		string(order.PaymentState), string(order.ShipmentState),
		order.ItemTotal, order.ShipmentTotal, order.AdjustmentTotal, order.PromoTotal,
		order.IncludedTaxTotal, order.AdditionalTaxTotal, order.PaymentTotal, order.Total, order.ItemCount,
		details, nullTime(order.CompletedAt), order.UpdatedAt,
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := orderExists(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	if err := replaceAdjustments(ctx, tx, order); err != nil {
		return err
	}
	return writeUnitRows(ctx, tx, order)
}

func replaceAdjustments(ctx context.Context, q querier, order domain.Order) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM adjustments WHERE order_id = $1`, order.ID); err != nil {
		return fmt.Errorf("clear adjustments: %w", err)
	}
	return writeAdjustments(ctx, q, order)
}

func writeLedgerRows(ctx context.Context, q querier, order domain.Order) error {
	if err := writeAdjustments(ctx, q, order); err != nil {
		return err
	}
	return writeUnitRows(ctx, q, order)
}

func writeAdjustments(ctx context.Context, q querier, order domain.Order) error {
	for i, adj := range order.Adjustments {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO adjustments (
				id, order_id, adjustable_kind, adjustable_id, source_kind, source_id,
				promotion_id, promotion_code_id, amount, label, eligible, finalized, included,
				position, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			adj.ID, order.ID, string(adj.Adjustable.Kind), adj.Adjustable.ID, string(adj.Source.Kind), adj.Source.ID,
			adj.PromotionID, adj.PromotionCodeID, adj.Amount, adj.Label, adj.Eligible, adj.Finalized, adj.Included,
			i, adj.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert adjustment %s: %w", adj.ID, err)
		}
	}
	return nil
}

func writeUnitRows(ctx context.Context, q querier, order domain.Order) error {
	for _, c := range order.UnitCancels {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO unit_cancels (
				id, order_id, inventory_unit_id, reason, created_by, currency,
				price, promo_total, additional_tax_total, included_tax_total, order_adjustment_total,
				created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO NOTHING
		`,
			c.ID, order.ID, c.InventoryUnitID, c.Reason, c.CreatedBy, order.Currency,
			c.Price, c.PromoTotal, c.AdditionalTaxTotal, c.IncludedTaxTotal, c.OrderAdjustmentTotal,
			c.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("unit %s: %w", c.InventoryUnitID, domain.ErrInventoryPreviouslyProcessed)
			}
			return fmt.Errorf("insert unit cancel %s: %w", c.ID, err)
		}
	}

	for i, c := range order.UnitCaptures {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO inventory_unit_captures (
				id, carton_capture_id, order_id, inventory_unit_id, currency,
				price, promo_total, additional_tax_total, included_tax_total, order_adjustment_total,
				position, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO NOTHING
		`,
			c.ID, c.CartonCaptureID, order.ID, c.InventoryUnitID, c.Currency,
			c.Price, c.PromoTotal, c.AdditionalTaxTotal, c.IncludedTaxTotal, c.OrderAdjustmentTotal,
			i, c.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("unit %s: %w", c.InventoryUnitID, domain.ErrInventoryPreviouslyProcessed)
			}
			return fmt.Errorf("insert unit capture %s: %w", c.ID, err)
		}
	}
	return nil
}

func loadLedgerRows(ctx context.Context, q querier, order *domain.Order) error {
	adjustments, err := loadAdjustments(ctx, q, order.ID)
	if err != nil {
		return err
	}
	cancels, err := loadUnitCancels(ctx, q, order.ID)
	if err != nil {
		return err
	}
	captures, err := loadUnitCaptures(ctx, q, `WHERE order_id = $1`, order.ID)
	if err != nil {
		return err
	}
	order.Adjustments = adjustments
	order.UnitCancels = cancels
	order.UnitCaptures = captures
	return nil
}

func loadAdjustments(ctx context.Context, q querier, orderID string) ([]domain.Adjustment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, adjustable_kind, adjustable_id, source_kind, source_id,
		       promotion_id, promotion_code_id, amount, label, eligible, finalized, included, created_at
		FROM adjustments
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}
	defer rows.Close()

	adjustments := make([]domain.Adjustment, 0)
	for rows.Next() {
		var (
			adj                     domain.Adjustment
			adjustableKind, srcKind string
		)
		if err := rows.Scan(
			&adj.ID, &adjustableKind, &adj.Adjustable.ID, &srcKind, &adj.Source.ID,
			&adj.PromotionID, &adj.PromotionCodeID, &adj.Amount, &adj.Label,
			&adj.Eligible, &adj.Finalized, &adj.Included, &adj.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		adj.Adjustable.Kind = domain.AdjustableKind(adjustableKind)
		adj.Source.Kind = domain.SourceKind(srcKind)
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return adjustments, nil
}

func loadUnitCancels(ctx context.Context, q querier, orderID string) ([]domain.UnitCancel, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, inventory_unit_id, reason, created_by,
		       price, promo_total, additional_tax_total, included_tax_total, order_adjustment_total,
		       created_at
		FROM unit_cancels
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load unit cancels: %w", err)
	}
	defer rows.Close()

	cancels := make([]domain.UnitCancel, 0)
	for rows.Next() {
		var c domain.UnitCancel
		if err := rows.Scan(
			&c.ID, &c.InventoryUnitID, &c.Reason, &c.CreatedBy,
			&c.Price, &c.PromoTotal, &c.AdditionalTaxTotal, &c.IncludedTaxTotal, &c.OrderAdjustmentTotal,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unit cancel: %w", err)
		}
		cancels = append(cancels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit cancels: %w", err)
	}
	return cancels, nil
}

func loadUnitCaptures(ctx context.Context, q querier, where string, arg string) ([]domain.InventoryUnitCapture, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, carton_capture_id, order_id, inventory_unit_id, currency,
		       price, promo_total, additional_tax_total, included_tax_total, order_adjustment_total,
		       created_at
		FROM inventory_unit_captures
		`+where+`
		ORDER BY created_at ASC, position ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("load unit captures: %w", err)
	}
	defer rows.Close()

	captures := make([]domain.InventoryUnitCapture, 0)
	for rows.Next() {
		var c domain.InventoryUnitCapture
		if err := rows.Scan(
			&c.ID, &c.CartonCaptureID, &c.OrderID, &c.InventoryUnitID, &c.Currency,
			&c.Price, &c.PromoTotal, &c.AdditionalTaxTotal, &c.IncludedTaxTotal, &c.OrderAdjustmentTotal,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unit capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit captures: %w", err)
	}
	return captures, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                              domain.Order
		state, paymentState, shipmentState string
		details                            []byte
		completedAt                        sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.UserID, &order.Email, &state, &order.Currency,
		&paymentState, &shipmentState,
		&order.ItemTotal, &order.ShipmentTotal, &order.AdjustmentTotal, &order.PromoTotal,
		&order.IncludedTaxTotal, &order.AdditionalTaxTotal, &order.PaymentTotal, &order.Total, &order.ItemCount,
		&details, &order.Version, &completedAt, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.State = domain.OrderState(state)
	order.PaymentState = domain.PaymentState(paymentState)
	order.ShipmentState = domain.ShipmentState(shipmentState)
	if completedAt.Valid {
		order.CompletedAt = completedAt.Time.UTC()
	}

	var d orderDetails
	if len(details) > 0 {
		if err := json.Unmarshal(details, &d); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s details: %w", order.ID, err)
		}
	}
	order.LineItems = d.LineItems
	order.InventoryUnits = d.InventoryUnits
	order.Shipments = d.Shipments
	order.Payments = d.Payments
	order.Promotions = d.Promotions
	order.StockLocations = d.StockLocations
	return order, nil
}

func marshalDetails(order domain.Order) ([]byte, error) {
	data, err := json.Marshal(orderDetails{
		LineItems:      order.LineItems,
		InventoryUnits: order.InventoryUnits,
		Shipments:      order.Shipments,
		Payments:       order.Payments,
		Promotions:     order.Promotions,
		StockLocations: order.StockLocations,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order %s details: %w", order.ID, err)
	}
	return data, nil
}

func orderExists(ctx context.Context, q querier, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var (
	_ domain.OrderRepository       = (*OrderRepository)(nil)
	_ domain.PromotionUsageCounter = (*OrderRepository)(nil)
)
