package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type promotionRepository struct {
	db *sql.DB
}

// NewPromotionRepository создаёт PostgreSQL-реализацию PromotionRepository.
func NewPromotionRepository(store *Store) domain.PromotionRepository {
	return &promotionRepository{db: store.DB()}
}

// Create добавляет акцию или заменяет её вместе с кодами.
func (r *promotionRepository) Create(promotion domain.Promotion) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rules, err := json.Marshal(promotion.Rules)
	if err != nil {
		return fmt.Errorf("encode promotion rules: %w", err)
	}
	actions, err := json.Marshal(promotion.Actions)
	if err != nil {
		return fmt.Errorf("encode promotion actions: %w", err)
	}
	policy := promotion.MatchPolicy
	if policy == "" {
		policy = domain.MatchPolicyAll
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

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO promotions (id, name, path, starts_at, expires_at, usage_limit, match_policy, rules, actions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    path = EXCLUDED.path,
		    starts_at = EXCLUDED.starts_at,
		    expires_at = EXCLUDED.expires_at,
		    usage_limit = EXCLUDED.usage_limit,
		    match_policy = EXCLUDED.match_policy,
		    rules = EXCLUDED.rules,
		    actions = EXCLUDED.actions
	`,
		promotion.ID, promotion.Name, promotion.Path,
		nullTime(promotion.StartsAt), nullTime(promotion.ExpiresAt),
		promotion.UsageLimit, string(policy), rules, actions,
	); err != nil {
		return fmt.Errorf("upsert promotion: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM promotion_codes WHERE promotion_id = $1`, promotion.ID); err != nil {
		return fmt.Errorf("clear promotion codes: %w", err)
	}
	for _, code := range promotion.Codes {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO promotion_codes (id, promotion_id, value, usage_limit)
			VALUES ($1,$2,$3,$4)
		`, code.ID, promotion.ID, code.Value, code.UsageLimit); err != nil {
			return fmt.Errorf("insert promotion code %s: %w", code.Value, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}
	return nil
}

func (r *promotionRepository) Get(id string) (domain.Promotion, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	promotion, err := scanPromotion(r.db.QueryRowContext(ctx, selectPromotionColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Promotion{}, domain.ErrPromotionNotFound
		}
		return domain.Promotion{}, fmt.Errorf("select promotion: %w", err)
	}
	if promotion.Codes, err = loadPromotionCodes(ctx, r.db, promotion.ID); err != nil {
		return domain.Promotion{}, err
	}
	return promotion, nil
}

// FindByCode ищет код без учёта регистра и окружающих пробелов.
func (r *promotionRepository) FindByCode(value string) (domain.Promotion, domain.PromotionCode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var code domain.PromotionCode
	err := r.db.QueryRowContext(ctx, `
		SELECT id, promotion_id, value, usage_limit
		FROM promotion_codes
		WHERE LOWER(value) = LOWER($1)
	`, strings.TrimSpace(value)).Scan(&code.ID, &code.PromotionID, &code.Value, &code.UsageLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Promotion{}, domain.PromotionCode{}, domain.ErrPromotionCodeNotFound
		}
		return domain.Promotion{}, domain.PromotionCode{}, fmt.Errorf("select promotion code: %w", err)
	}

	promotion, err := r.Get(code.PromotionID)
	if err != nil {
		return domain.Promotion{}, domain.PromotionCode{}, err
	}
	return promotion, code, nil
}

func (r *promotionRepository) ListAutomatic() ([]domain.Promotion, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectPromotionColumns+`
		WHERE path = ''
		  AND NOT EXISTS (SELECT 1 FROM promotion_codes c WHERE c.promotion_id = promotions.id)
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list automatic promotions: %w", err)
	}
	defer rows.Close()

	promotions := make([]domain.Promotion, 0)
	for rows.Next() {
		promotion, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		promotions = append(promotions, promotion)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promotions: %w", err)
	}
	return promotions, nil
}

const selectPromotionColumns = `
	SELECT id, name, path, starts_at, expires_at, usage_limit, match_policy, rules, actions
	FROM promotions`

func scanPromotion(row rowScanner) (domain.Promotion, error) {
	var (
		p                 domain.Promotion
		startsAt, expires sql.NullTime
		policy            string
		rules, actions    []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &startsAt, &expires, &p.UsageLimit, &policy, &rules, &actions); err != nil {
		return domain.Promotion{}, err
	}
	p.MatchPolicy = domain.MatchPolicy(policy)
	if startsAt.Valid {
		p.StartsAt = startsAt.Time.UTC()
	}
	if expires.Valid {
		p.ExpiresAt = expires.Time.UTC()
	}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return domain.Promotion{}, fmt.Errorf("decode promotion %s rules: %w", p.ID, err)
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return domain.Promotion{}, fmt.Errorf("decode promotion %s actions: %w", p.ID, err)
	}
	return p, nil
}

func loadPromotionCodes(ctx context.Context, q querier, promotionID string) ([]domain.PromotionCode, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, promotion_id, value, usage_limit
		FROM promotion_codes
		WHERE promotion_id = $1
		ORDER BY id ASC
	`, promotionID)
	if err != nil {
		return nil, fmt.Errorf("load promotion codes: %w", err)
	}
	defer rows.Close()

	var codes []domain.PromotionCode
	for rows.Next() {
		var code domain.PromotionCode
		if err := rows.Scan(&code.ID, &code.PromotionID, &code.Value, &code.UsageLimit); err != nil {
			return nil, fmt.Errorf("scan promotion code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promotion codes: %w", err)
	}
	return codes, nil
}

var _ domain.PromotionRepository = (*promotionRepository)(nil)
