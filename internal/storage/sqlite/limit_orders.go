package sqlite

import (
	"context"
	"fmt"

	"github.com/example/escrow-ledger/internal/domain"
)

type limitOrderRepo struct{ t *tx }

const limitOrderColumns = `id, user_id, side, base_asset, quote_asset, amount, limit_price, fee_rate,
	status, filled_amount, fee, created_at, updated_at`

func scanLimitOrder(row rowScanner) (*domain.LimitOrder, error) {
	var (
		o                    domain.LimitOrder
		side, status         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&o.ID, &o.UserID, &side, &o.BaseAsset, &o.QuoteAsset, &o.Amount, &o.LimitPrice, &o.FeeRate,
		&status, &o.FilledAmount, &o.Fee, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.LimitSide(side)
	o.Status = domain.LimitStatus(status)
	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r limitOrderRepo) Create(ctx context.Context, o *domain.LimitOrder) error {
	_, err := r.t.q.ExecContext(ctx, `INSERT INTO limit_orders (`+limitOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(o.Side), o.BaseAsset, o.QuoteAsset, o.Amount, o.LimitPrice, o.FeeRate,
		string(o.Status), o.FilledAmount, o.Fee, formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert limit order: %w", err)
	}
	return nil
}

func (r limitOrderRepo) Get(ctx context.Context, id string) (*domain.LimitOrder, error) {
	o, err := scanLimitOrder(r.t.q.QueryRowContext(ctx,
		`SELECT `+limitOrderColumns+` FROM limit_orders WHERE id = ?`, id))
	return o, notFound(err)
}

func (r limitOrderRepo) GetForUpdate(ctx context.Context, id string) (*domain.LimitOrder, error) {
	return r.Get(ctx, id)
}

func (r limitOrderRepo) Update(ctx context.Context, o *domain.LimitOrder) error {
	o.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.ExecContext(ctx,
		`UPDATE limit_orders SET status = ?, filled_amount = ?, fee = ?, updated_at = ? WHERE id = ?`,
		string(o.Status), o.FilledAmount, o.Fee, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update limit order %s: %w", o.ID, err)
	}
	return nil
}

func (r limitOrderRepo) ListOpen(ctx context.Context, asset string) ([]*domain.LimitOrder, error) {
	rows, err := r.t.q.QueryContext(ctx, `SELECT `+limitOrderColumns+` FROM limit_orders
		WHERE status = ? AND (base_asset = ? OR quote_asset = ?) ORDER BY created_at, id`,
		string(domain.LimitOpen), asset, asset)
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
