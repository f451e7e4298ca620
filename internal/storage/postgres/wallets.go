package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/escrow-ledger/internal/domain"
)

type walletRepo struct{ t *tx }

const walletColumns = `id::text, user_id, asset_id, available::text, locked::text, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w   domain.Wallet
		num numeric
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.AssetID, num.scan(&w.Available), num.scan(&w.Locked), &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := num.decode(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r walletRepo) Get(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := scanWallet(r.t.q.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	return w, notFound(err)
}

func (r walletRepo) Find(ctx context.Context, userID, assetID string) (*domain.Wallet, error) {
	w, err := scanWallet(r.t.q.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND asset_id = $2`, userID, assetID))
	return w, notFound(err)
}

func (r walletRepo) Create(ctx context.Context, userID, assetID string) (*domain.Wallet, error) {
	now := r.t.now().UTC()
	_, err := r.t.q.Exec(ctx, `
		INSERT INTO wallets (id, user_id, asset_id, available, locked, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (user_id, asset_id) DO NOTHING
	`, uuid.NewString(), userID, assetID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return r.Find(ctx, userID, assetID)
}

func (r walletRepo) Lock(ctx context.Context, ids []string) ([]*domain.Wallet, error) {
	rows, err := r.t.q.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallets: %w", err)
	}
	return collectWallets(rows)
}

func (r walletRepo) UpdateBalances(ctx context.Context, w *domain.Wallet) error {
	w.UpdatedAt = r.t.now().UTC()
	tag, err := r.t.q.Exec(ctx,
		`UPDATE wallets SET available = $1::numeric, locked = $2::numeric, updated_at = $3 WHERE id = $4`,
		w.Available.String(), w.Locked.String(), w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update wallet %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r walletRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	rows, err := r.t.q.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY asset_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return collectWallets(rows)
}

func collectWallets(rows pgx.Rows) ([]*domain.Wallet, error) {
	defer rows.Close()
	var out []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
