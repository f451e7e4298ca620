package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/escrow-ledger/internal/domain"
)

type entryRepo struct{ t *tx }

const entryColumns = `id::text, reference_id, wallet_id::text, asset_id, bucket, amount::text, entry_type,
	description, balance_after::text, created_at`

func (r entryRepo) ReserveReference(ctx context.Context, referenceID string, entryType domain.EntryType) error {
	tag, err := r.t.q.Exec(ctx,
		`INSERT INTO ledger_references (reference_id, entry_type, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (reference_id) DO NOTHING`,
		referenceID, string(entryType), r.t.now().UTC())
	if isUniqueViolation(err) {
		return domain.ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateReference
	}
	return nil
}

func (r entryRepo) Insert(ctx context.Context, entries []*domain.Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ledger_entries (id, reference_id, wallet_id, asset_id, bucket, amount, entry_type, description, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9::numeric, $10)
		`, e.ID, e.ReferenceID, e.WalletID, e.AssetID, string(e.Bucket), e.Amount.String(),
			string(e.Type), e.Description, e.BalanceAfter.String(), e.CreatedAt)
	}

	results := r.t.q.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}
	return results.Close()
}

func (r entryRepo) ListByWallet(ctx context.Context, walletID string, since time.Time) ([]*domain.Entry, error) {
	rows, err := r.t.q.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = $1 AND created_at >= $2 ORDER BY seq`,
		walletID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func (r entryRepo) ListByReference(ctx context.Context, referenceID string) ([]*domain.Entry, error) {
	rows, err := r.t.q.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE reference_id = $1 ORDER BY seq`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			e           domain.Entry
			bucket, typ string
			num         numeric
		)
		if err := rows.Scan(&e.ID, &e.ReferenceID, &e.WalletID, &e.AssetID, &bucket, num.scan(&e.Amount),
			&typ, &e.Description, num.scan(&e.BalanceAfter), &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := num.decode(); err != nil {
			return nil, err
		}
		e.Bucket = domain.Bucket(bucket)
		e.Type = domain.EntryType(typ)
		out = append(out, &e)
	}
	return out, rows.Err()
}
