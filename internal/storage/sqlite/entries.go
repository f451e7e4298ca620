package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/escrow-ledger/internal/domain"
)

type entryRepo struct{ t *tx }

const entryColumns = `id, reference_id, wallet_id, asset_id, bucket, amount, entry_type, description, balance_after, created_at`

func (r entryRepo) ReserveReference(ctx context.Context, referenceID string, entryType domain.EntryType) error {
	var exists bool
	if err := r.t.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_references WHERE reference_id = ?)`, referenceID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check reference: %w", err)
	}
	if exists {
		return domain.ErrDuplicateReference
	}

	_, err := r.t.q.ExecContext(ctx,
		`INSERT INTO ledger_references (reference_id, entry_type, created_at) VALUES (?, ?, ?)`,
		referenceID, string(entryType), formatTime(r.t.now()))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert reference: %w", err)
	}
	return nil
}

func (r entryRepo) Insert(ctx context.Context, entries []*domain.Entry) error {
	for _, e := range entries {
		_, err := r.t.q.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.ReferenceID, e.WalletID, e.AssetID, string(e.Bucket), e.Amount,
			string(e.Type), e.Description, e.BalanceAfter, formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}
	return nil
}

func (r entryRepo) ListByWallet(ctx context.Context, walletID string, since time.Time) ([]*domain.Entry, error) {
	rows, err := r.t.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = ? AND created_at >= ? ORDER BY seq`,
		walletID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func (r entryRepo) ListByReference(ctx context.Context, referenceID string) ([]*domain.Entry, error) {
	rows, err := r.t.q.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE reference_id = ? ORDER BY seq`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			e                      domain.Entry
			bucket, typ, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ReferenceID, &e.WalletID, &e.AssetID, &bucket, &e.Amount,
			&typ, &e.Description, &e.BalanceAfter, &createdAt); err != nil {
			return nil, err
		}
		e.Bucket = domain.Bucket(bucket)
		e.Type = domain.EntryType(typ)
		var err error
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
