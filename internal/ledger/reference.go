package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// Settlement references are derived from order ids by the escrow flows.
// No client-facing operation may post under them.
var settlementPrefixes = []string{"p2p_", "limit_"}

// generatedPrefixes are handed out by NewReference for requests that
// arrive without a reference id.
var generatedPrefixes = []string{"txn_", "dep_", "wd_", "swap_"}

// IsSettlementReference reports whether ref belongs to escrow settlement.
func IsSettlementReference(ref string) bool {
	return hasAnyPrefix(ref, settlementPrefixes)
}

// IsReservedReference reports whether ref lies in a namespace the server
// allocates itself, so a caller may not choose it.
func IsReservedReference(ref string) bool {
	return hasAnyPrefix(ref, settlementPrefixes) || hasAnyPrefix(ref, generatedPrefixes)
}

func hasAnyPrefix(ref string, prefixes []string) bool {
	ref = strings.ToLower(ref)
	for _, p := range prefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

func checkClientReference(op, ref string) error {
	if IsSettlementReference(ref) {
		return Errorf(KindValidation, op, "reference id %q is reserved for settlement", ref)
	}
	return nil
}

type entryKey struct {
	walletID string
	assetID  string
	bucket   domain.Bucket
	amount   string
}

func keyOf(walletID, assetID string, bucket domain.Bucket, amount decimal.Decimal) entryKey {
	return entryKey{walletID, assetID, bucketOrDefault(bucket), amount.String()}
}

// Replay returns the batch already stored under b.ReferenceID when it is
// the movement b describes. Every posting of b that pinned selects must
// appear in the stored batch with the same wallet, bucket and amount, and
// the entry type must agree. Anything else reusing the reference fails
// with KindDuplicate and reveals nothing about the stored batch.
func (e *Engine) Replay(ctx context.Context, b Batch, pinned func(Posting) bool) ([]*domain.Entry, error) {
	const op = "replay"
	conflict := Errorf(KindDuplicate, op, "reference %s was used for a different movement", b.ReferenceID)

	var (
		original []*domain.Entry
		same     bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		original, err = tx.Entries().ListByReference(ctx, b.ReferenceID)
		if err != nil {
			return err
		}
		same, err = e.matches(ctx, tx, b, original, pinned)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !same {
		e.logger.Warn("reference_conflict", "reference_id", b.ReferenceID, "type", string(b.Type))
		return nil, conflict
	}
	return original, nil
}

func (e *Engine) matches(ctx context.Context, tx domain.Tx, b Batch, original []*domain.Entry, pinned func(Posting) bool) (bool, error) {
	if len(original) == 0 {
		return false, nil
	}
	stored := make(map[entryKey]int, len(original))
	for _, en := range original {
		if en.Type != b.Type {
			return false, nil
		}
		stored[keyOf(en.WalletID, en.AssetID, en.Bucket, en.Amount)]++
	}

	for _, p := range b.Postings {
		if pinned != nil && !pinned(p) {
			continue
		}
		w, err := e.wallets.Find(ctx, tx, p.UserID, p.AssetID)
		if errors.Is(err, ErrWalletNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		k := keyOf(w.ID, p.AssetID, p.Bucket, p.Amount)
		if stored[k] == 0 {
			return false, nil
		}
		stored[k]--
	}
	return true, nil
}

// OwnPostings pins the postings on user wallets, leaving system accounts
// out of the comparison.
func OwnPostings(p Posting) bool {
	return !domain.IsSystemAccount(p.UserID)
}
