package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// Journal is the append-only record of balance movements.
type Journal struct {
	now func() time.Time
}

func NewJournal() *Journal {
	return &Journal{now: time.Now}
}

// Append validates and persists one batch. All entries must share a
// reference id and their amounts must sum to zero per asset.
func (j *Journal) Append(ctx context.Context, tx domain.Tx, entries []*domain.Entry) error {
	if len(entries) == 0 {
		return Errorf(KindUnbalancedEntry, "journal append", "empty batch")
	}

	ref := entries[0].ReferenceID
	for _, e := range entries {
		if e.ReferenceID != ref {
			return Errorf(KindUnbalancedEntry, "journal append", "batch mixes references %s and %s", ref, e.ReferenceID)
		}
		if !e.Type.Valid() {
			return Errorf(KindUnbalancedEntry, "journal append", "unknown entry type %q", e.Type)
		}
		if e.Amount.IsZero() {
			return Errorf(KindUnbalancedEntry, "journal append", "zero amount on wallet %s", e.WalletID)
		}
	}
	if err := CheckBalanced(entries); err != nil {
		return err
	}

	now := j.now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	return tx.Entries().Insert(ctx, entries)
}

// EntriesFor returns a wallet's entries at or after since, in application order.
func (j *Journal) EntriesFor(ctx context.Context, tx domain.Tx, walletID string, since time.Time) ([]*domain.Entry, error) {
	return tx.Entries().ListByWallet(ctx, walletID, since)
}

// CheckBalanced returns an UnbalancedEntry error unless the amounts sum to
// zero for every asset.
func CheckBalanced(entries []*domain.Entry) error {
	sums := map[string]decimal.Decimal{}
	for _, e := range entries {
		sums[e.AssetID] = sums[e.AssetID].Add(e.Amount)
	}

	assets := make([]string, 0, len(sums))
	for a := range sums {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		if !sums[a].IsZero() {
			ref := ""
			if len(entries) > 0 {
				ref = entries[0].ReferenceID
			}
			return Errorf(KindUnbalancedEntry, "journal append", "reference %s nets %s %s", ref, sums[a], a)
		}
	}
	return nil
}
