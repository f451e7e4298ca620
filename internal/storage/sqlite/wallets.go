package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/escrow-ledger/internal/domain"
)

type walletRepo struct{ t *tx }

const walletColumns = `id, user_id, asset_id, available, locked, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w                    domain.Wallet
		createdAt, updatedAt string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.AssetID, &w.Available, &w.Locked, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r walletRepo) Get(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := scanWallet(r.t.q.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id))
	return w, notFound(err)
}

func (r walletRepo) Find(ctx context.Context, userID, assetID string) (*domain.Wallet, error) {
	w, err := scanWallet(r.t.q.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ? AND asset_id = ?`, userID, assetID))
	return w, notFound(err)
}

func (r walletRepo) Create(ctx context.Context, userID, assetID string) (*domain.Wallet, error) {
	now := formatTime(r.t.now())
	_, err := r.t.q.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, asset_id, available, locked, created_at, updated_at)
		VALUES (?, ?, ?, '0', '0', ?, ?)
		ON CONFLICT (user_id, asset_id) DO NOTHING
	`, uuid.NewString(), userID, assetID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return r.Find(ctx, userID, assetID)
}

// Lock reads the wallets in id order. The surrounding IMMEDIATE transaction
// already holds the database write lock.
func (r walletRepo) Lock(ctx context.Context, ids []string) ([]*domain.Wallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.t.q.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallets: %w", err)
	}
	return collectWallets(rows)
}

func (r walletRepo) UpdateBalances(ctx context.Context, w *domain.Wallet) error {
	w.UpdatedAt = r.t.now().UTC()
	res, err := r.t.q.ExecContext(ctx,
		`UPDATE wallets SET available = ?, locked = ?, updated_at = ? WHERE id = ?`,
		w.Available, w.Locked, formatTime(w.UpdatedAt), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update wallet %s: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r walletRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	rows, err := r.t.q.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = ? ORDER BY asset_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return collectWallets(rows)
}

func collectWallets(rows *sql.Rows) ([]*domain.Wallet, error) {
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
