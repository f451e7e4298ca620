package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/escrow-ledger/internal/domain"
)

type adRepo struct{ t *tx }

const adColumns = `id, maker_id, side, asset_id, fiat_asset_id, price, min_limit, max_limit,
	available_amount, payment_methods, status, created_at, updated_at`

func scanAd(row rowScanner) (*domain.Ad, error) {
	var (
		ad                    domain.Ad
		side, status, methods string
		createdAt, updatedAt  string
	)
	if err := row.Scan(&ad.ID, &ad.MakerID, &side, &ad.AssetID, &ad.FiatAssetID, &ad.Price, &ad.MinLimit, &ad.MaxLimit,
		&ad.AvailableAmount, &methods, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ad.Side = domain.AdSide(side)
	ad.Status = domain.AdStatus(status)
	if err := json.Unmarshal([]byte(methods), &ad.PaymentMethods); err != nil {
		return nil, fmt.Errorf("decode payment methods of ad %s: %w", ad.ID, err)
	}
	var err error
	if ad.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ad.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ad, nil
}

func (r adRepo) Create(ctx context.Context, ad *domain.Ad) error {
	methods, err := json.Marshal(ad.PaymentMethods)
	if err != nil {
		return err
	}
	_, err = r.t.q.ExecContext(ctx, `INSERT INTO p2p_ads (`+adColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ad.ID, ad.MakerID, string(ad.Side), ad.AssetID, ad.FiatAssetID, ad.Price, ad.MinLimit, ad.MaxLimit,
		ad.AvailableAmount, string(methods), string(ad.Status), formatTime(ad.CreatedAt), formatTime(ad.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ad: %w", err)
	}
	return nil
}

func (r adRepo) Get(ctx context.Context, id string) (*domain.Ad, error) {
	ad, err := scanAd(r.t.q.QueryRowContext(ctx, `SELECT `+adColumns+` FROM p2p_ads WHERE id = ?`, id))
	return ad, notFound(err)
}

func (r adRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ad, error) {
	return r.Get(ctx, id)
}

func (r adRepo) Update(ctx context.Context, ad *domain.Ad) error {
	ad.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.ExecContext(ctx,
		`UPDATE p2p_ads SET available_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		ad.AvailableAmount, string(ad.Status), formatTime(ad.UpdatedAt), ad.ID)
	if err != nil {
		return fmt.Errorf("failed to update ad %s: %w", ad.ID, err)
	}
	return nil
}

func (r adRepo) List(ctx context.Context, filter domain.AdFilter) ([]*domain.Ad, error) {
	var (
		where []string
		args  []any
	)
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if filter.Side != "" {
		where = append(where, "side = ?")
		args = append(args, string(filter.Side))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + adColumns + ` FROM p2p_ads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY price, created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", err)
	}
	defer rows.Close()

	var out []*domain.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

type orderRepo struct{ t *tx }

const orderColumns = `id, ad_id, buyer_id, seller_id, asset_id, fiat_asset_id, fiat_amount, crypto_amount,
	price, fee, status, dispute_reason, expires_at, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                               domain.Order
		status                          string
		expiresAt, createdAt, updatedAt string
	)
	if err := row.Scan(&o.ID, &o.AdID, &o.BuyerID, &o.SellerID, &o.AssetID, &o.FiatAssetID, &o.FiatAmount, &o.CryptoAmount,
		&o.Price, &o.Fee, &status, &o.DisputeReason, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	var err error
	if o.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	_, err := r.t.q.ExecContext(ctx, `INSERT INTO p2p_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AdID, o.BuyerID, o.SellerID, o.AssetID, o.FiatAssetID, o.FiatAmount, o.CryptoAmount,
		o.Price, o.Fee, string(o.Status), o.DisputeReason, formatTime(o.ExpiresAt), formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.t.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM p2p_orders WHERE id = ?`, id))
	return o, notFound(err)
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.ExecContext(ctx,
		`UPDATE p2p_orders SET status = ?, fee = ?, dispute_reason = ?, updated_at = ? WHERE id = ?`,
		string(o.Status), o.Fee, o.DisputeReason, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	return nil
}

func (r orderRepo) ListExpired(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	rows, err := r.t.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM p2p_orders WHERE status = ? AND expires_at < ? ORDER BY expires_at LIMIT ?`,
		string(status), formatTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
