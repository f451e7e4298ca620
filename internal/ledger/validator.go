package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// ValidationResult is the outcome of one invariant check.
type ValidationResult struct {
	IsValid        bool              `json:"is_valid"`
	ValidationType string            `json:"validation_type"`
	Message        string            `json:"message"`
	WalletID       string            `json:"wallet_id,omitempty"`
	ReferenceID    string            `json:"reference_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Details        map[string]string `json:"details,omitempty"`
}

// ReconciliationReport compares a wallet's stored balances with the
// balances obtained by replaying its journal from zero.
type ReconciliationReport struct {
	WalletID          string              `json:"wallet_id"`
	UserID            string              `json:"user_id"`
	AssetID           string              `json:"asset_id"`
	StoredAvailable   decimal.Decimal     `json:"stored_available"`
	StoredLocked      decimal.Decimal     `json:"stored_locked"`
	ReplayedAvailable decimal.Decimal     `json:"replayed_available"`
	ReplayedLocked    decimal.Decimal     `json:"replayed_locked"`
	EntryCount        int                 `json:"entry_count"`
	IsValid           bool                `json:"is_valid"`
	Results           []*ValidationResult `json:"results"`
}

// Reconcile replays every entry of walletID and checks each balanceAfter
// snapshot and the final stored balances.
func (e *Engine) Reconcile(ctx context.Context, walletID string) (*ReconciliationReport, error) {
	var report *ReconciliationReport
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		w, err := tx.Wallets().Get(ctx, walletID)
		if err != nil {
			return notFound("reconcile", "wallet "+walletID, err)
		}
		entries, err := tx.Entries().ListByWallet(ctx, walletID, time.Time{})
		if err != nil {
			return err
		}
		report = e.replay(w, entries)
		return nil
	})
	return report, err
}

func (e *Engine) replay(w *domain.Wallet, entries []*domain.Entry) *ReconciliationReport {
	now := e.now().UTC()
	report := &ReconciliationReport{
		WalletID:        w.ID,
		UserID:          w.UserID,
		AssetID:         w.AssetID,
		StoredAvailable: w.Available,
		StoredLocked:    w.Locked,
		EntryCount:      len(entries),
		IsValid:         true,
	}

	running := map[domain.Bucket]decimal.Decimal{
		domain.BucketAvailable: decimal.Zero,
		domain.BucketLocked:    decimal.Zero,
	}
	for _, entry := range entries {
		running[entry.Bucket] = running[entry.Bucket].Add(entry.Amount)
		if !running[entry.Bucket].Equal(entry.BalanceAfter) {
			report.IsValid = false
			report.Results = append(report.Results, &ValidationResult{
				ValidationType: "balance_after",
				Message:        fmt.Sprintf("entry %s records %s %s after, replay gives %s", entry.ID, entry.Bucket, entry.BalanceAfter, running[entry.Bucket]),
				WalletID:       w.ID,
				ReferenceID:    entry.ReferenceID,
				Timestamp:      now,
			})
		}
		if running[entry.Bucket].IsNegative() && !(entry.Bucket == domain.BucketAvailable && w.AllowsNegative()) {
			report.IsValid = false
			report.Results = append(report.Results, &ValidationResult{
				ValidationType: "non_negative",
				Message:        fmt.Sprintf("%s went negative at entry %s", entry.Bucket, entry.ID),
				WalletID:       w.ID,
				ReferenceID:    entry.ReferenceID,
				Timestamp:      now,
			})
		}
	}
	report.ReplayedAvailable = running[domain.BucketAvailable]
	report.ReplayedLocked = running[domain.BucketLocked]

	balanced := report.ReplayedAvailable.Equal(w.Available) && report.ReplayedLocked.Equal(w.Locked)
	if !balanced {
		report.IsValid = false
	}
	report.Results = append(report.Results, &ValidationResult{
		IsValid:        balanced,
		ValidationType: "stored_balance",
		Message:        storedBalanceMessage(balanced),
		WalletID:       w.ID,
		Timestamp:      now,
		Details: map[string]string{
			"stored_available":   w.Available.String(),
			"stored_locked":      w.Locked.String(),
			"replayed_available": report.ReplayedAvailable.String(),
			"replayed_locked":    report.ReplayedLocked.String(),
		},
	})
	return report
}

func storedBalanceMessage(ok bool) string {
	if ok {
		return "stored balances match journal replay"
	}
	return "stored balances diverge from journal replay"
}

// VerifyReference checks that the entries under ref net to zero per asset.
func (e *Engine) VerifyReference(ctx context.Context, ref string) (*ValidationResult, error) {
	entries, err := e.EntriesForReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, Errorf(KindNotFound, "verify reference", "no entries for %s", ref)
	}

	result := &ValidationResult{
		IsValid:        true,
		ValidationType: "double_entry",
		Message:        fmt.Sprintf("%d entries net to zero", len(entries)),
		ReferenceID:    ref,
		Timestamp:      e.now().UTC(),
	}
	if err := CheckBalanced(entries); err != nil {
		result.IsValid = false
		result.Message = err.Error()
	}
	return result, nil
}

func notFound(op, what string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return Errorf(KindNotFound, op, "%s not found", what)
	}
	return err
}
