package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/escrow-ledger/internal/domain"
)

type adRepo struct{ t *tx }

const adColumns = `id::text, maker_id, side, asset_id, fiat_asset_id, price::text, min_limit::text, max_limit::text,
	available_amount::text, payment_methods, status, created_at, updated_at`

func scanAd(row pgx.Row) (*domain.Ad, error) {
	var (
		ad           domain.Ad
		side, status string
		num          numeric
	)
	if err := row.Scan(&ad.ID, &ad.MakerID, &side, &ad.AssetID, &ad.FiatAssetID,
		num.scan(&ad.Price), num.scan(&ad.MinLimit), num.scan(&ad.MaxLimit), num.scan(&ad.AvailableAmount),
		&ad.PaymentMethods, &status, &ad.CreatedAt, &ad.UpdatedAt); err != nil {
		return nil, err
	}
	if err := num.decode(); err != nil {
		return nil, err
	}
	ad.Side = domain.AdSide(side)
	ad.Status = domain.AdStatus(status)
	return &ad, nil
}

func (r adRepo) Create(ctx context.Context, ad *domain.Ad) error {
	methods := ad.PaymentMethods
	if methods == nil {
		methods = []string{}
	}
	_, err := r.t.q.Exec(ctx, `
		INSERT INTO p2p_ads (id, maker_id, side, asset_id, fiat_asset_id, price, min_limit, max_limit,
			available_amount, payment_methods, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12, $13)
	`, ad.ID, ad.MakerID, string(ad.Side), ad.AssetID, ad.FiatAssetID, ad.Price.String(), ad.MinLimit.String(),
		ad.MaxLimit.String(), ad.AvailableAmount.String(), methods, string(ad.Status), ad.CreatedAt, ad.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ad: %w", err)
	}
	return nil
}

func (r adRepo) Get(ctx context.Context, id string) (*domain.Ad, error) {
	ad, err := scanAd(r.t.q.QueryRow(ctx, `SELECT `+adColumns+` FROM p2p_ads WHERE id = $1`, id))
	return ad, notFound(err)
}

func (r adRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ad, error) {
	ad, err := scanAd(r.t.q.QueryRow(ctx, `SELECT `+adColumns+` FROM p2p_ads WHERE id = $1 FOR UPDATE`, id))
	return ad, notFound(err)
}

func (r adRepo) Update(ctx context.Context, ad *domain.Ad) error {
	ad.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.Exec(ctx,
		`UPDATE p2p_ads SET available_amount = $1::numeric, status = $2, updated_at = $3 WHERE id = $4`,
		ad.AvailableAmount.String(), string(ad.Status), ad.UpdatedAt, ad.ID)
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
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.AssetID != "" {
		where = append(where, "asset_id = "+arg(filter.AssetID))
	}
	if filter.Side != "" {
		where = append(where, "side = "+arg(string(filter.Side)))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}

	query := `SELECT ` + adColumns + ` FROM p2p_ads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY price, created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := r.t.q.Query(ctx, query, args...)
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

const orderColumns = `id::text, ad_id::text, buyer_id, seller_id, asset_id, fiat_asset_id, fiat_amount::text,
	crypto_amount::text, price::text, fee::text, status, dispute_reason, expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
		num    numeric
	)
	if err := row.Scan(&o.ID, &o.AdID, &o.BuyerID, &o.SellerID, &o.AssetID, &o.FiatAssetID,
		num.scan(&o.FiatAmount), num.scan(&o.CryptoAmount), num.scan(&o.Price), num.scan(&o.Fee),
		&status, &o.DisputeReason, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := num.decode(); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	_, err := r.t.q.Exec(ctx, `
		INSERT INTO p2p_orders (id, ad_id, buyer_id, seller_id, asset_id, fiat_asset_id, fiat_amount, crypto_amount,
			price, fee, status, dispute_reason, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14, $15)
	`, o.ID, o.AdID, o.BuyerID, o.SellerID, o.AssetID, o.FiatAssetID, o.FiatAmount.String(), o.CryptoAmount.String(),
		o.Price.String(), o.Fee.String(), string(o.Status), o.DisputeReason, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.t.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM p2p_orders WHERE id = $1`, id))
	return o, notFound(err)
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.t.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM p2p_orders WHERE id = $1 FOR UPDATE`, id))
	return o, notFound(err)
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = r.t.now().UTC()
	_, err := r.t.q.Exec(ctx,
		`UPDATE p2p_orders SET status = $1, fee = $2::numeric, dispute_reason = $3, updated_at = $4 WHERE id = $5`,
		string(o.Status), o.Fee.String(), o.DisputeReason, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	return nil
}

func (r orderRepo) ListExpired(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]*domain.Order, error) {
	rows, err := r.t.q.Query(ctx,
		`SELECT `+orderColumns+` FROM p2p_orders WHERE status = $1 AND expires_at < $2 ORDER BY expires_at LIMIT $3`,
		string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
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
