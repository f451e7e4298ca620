package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/example/escrow-ledger/internal/domain"
)

type limitOrderRepo struct{ t *tx }

const limitOrderColumns = `id::text, user_id, side, base_asset, quote_asset, amount::text, limit_price::text,
	fee_rate::text, status, filled_amount::text, fee::text, created_at, updated_at`

func scanLimitOrder(row pgx.Row) (*domain.LimitOrder, error) {
	var (
		o            domain.LimitOrder
		side, status string
		num          numeric
	)
	if err := row.Scan(&o.ID, &o.UserID, &side, &o.BaseAsset, &o.QuoteAsset, num.scan(&o.Amount), num.scan(&o.LimitPrice),
		num.scan(&o.FeeRate), &status, num.scan(&o.FilledAmount), num.scan(&o.Fee), &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := num.decode(); err != nil {
		return nil, err
	}
	o.Side = domain.LimitSide(side)
	o.Status = domain.LimitStatus(status)
	return &o, nil
}

func (r limitOrderRepo) Create(ctx context.Context, o *domain.LimitOrder) error {
	_, err := r.t.q.Exec(ctx, `
		INSERT INTO limit_orders (id, user_id, side, base_asset, quote_asset, amount, limit_price, fee_rate,
			status, filled_amount, fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10::numeric, $11::numeric, $12, $13)
	`, o.ID, o.UserID, string(o.Side), o.BaseAsset, o.QuoteAsset, o.Amount.String(), o.LimitPrice.String(),
		o.FeeRate.String(), string(o.Status), o.FilledAmount.String(), o.Fee.String(), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert limit order: %w", err)
	}
	return nil
}

func (r limitOrderRepo) Get(ctx context.Context, id string) (*domain.LimitOrder, error) {
	o, err := scanLimitOrder(r.t.q.QueryRow(ctx, `SELECT `+limitOrderColumns+` FROM limit_orders WHERE id = $1`, id))
	return o, notFound(err)
}

func (r limitOrderRepo) GetForUpdate(ctx context.Context, id string) (*domain.LimitOrder, error) {
	o, err := scanLimitOrder(r.t.q.QueryRow(ctx,
		`SELECT `+limitOrderColumns+` FROM limit_orders WHERE id = $1 FOR UPDATE`, id))
	return o, notFound(err)
}

func (r limitOrderRepo) Update(ctx context.Context, o *domain.LimitOrder) error {
	o.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.Exec(ctx,
		`UPDATE limit_orders SET status = $1, filled_amount = $2::numeric, fee = $3::numeric, updated_at = $4 WHERE id = $5`,
		string(o.Status), o.FilledAmount.String(), o.Fee.String(), o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update limit order %s: %w", o.ID, err)
	}
	return nil
}

func (r limitOrderRepo) ListOpen(ctx context.Context, asset string) ([]*domain.LimitOrder, error) {
	rows, err := r.t.q.Query(ctx, `SELECT `+limitOrderColumns+` FROM limit_orders
		WHERE status = $1 AND (base_asset = $2 OR quote_asset = $2) ORDER BY created_at, id`,
		string(domain.LimitOpen), asset)
	if err != nil {
		return nil, fmt.Errorf("failed to list open limit orders: %w", err)
	}
	defer rows.Close()

	var out []*domain.LimitOrder
	for rows.Next() {
		o, err := scanLimitOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
