package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// WalletStore owns the balance fields. It never opens or commits a
// transaction; every call runs inside the caller's.
type WalletStore struct {
	logger *slog.Logger
}

func NewWalletStore(logger *slog.Logger) *WalletStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletStore{logger: logger}
}

// GetOrCreate returns the wallet for (userID, assetID), creating an empty
// one on first use.
func (s *WalletStore) GetOrCreate(ctx context.Context, tx domain.Tx, userID, assetID string) (*domain.Wallet, error) {
	w, err := tx.Wallets().Find(ctx, userID, assetID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return tx.Wallets().Create(ctx, userID, assetID)
}

// Find returns the existing wallet or a WalletNotFound error.
func (s *WalletStore) Find(ctx context.Context, tx domain.Tx, userID, assetID string) (*domain.Wallet, error) {
	w, err := tx.Wallets().Find(ctx, userID, assetID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, Errorf(KindWalletNotFound, "find wallet", "no %s wallet for %s", assetID, userID)
	}
	return w, err
}

// Adjust row-locks walletID and applies the deltas.
func (s *WalletStore) Adjust(ctx context.Context, tx domain.Tx, walletID string, availableDelta, lockedDelta decimal.Decimal) (*domain.Wallet, error) {
	locked, err := tx.Wallets().Lock(ctx, []string{walletID})
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, Errorf(KindWalletNotFound, "adjust", "wallet %s", walletID)
	}
	return s.apply(ctx, tx, locked[0], availableDelta, lockedDelta)
}

// apply mutates a wallet the caller already holds the row lock for.
func (s *WalletStore) apply(ctx context.Context, tx domain.Tx, w *domain.Wallet, availableDelta, lockedDelta decimal.Decimal) (*domain.Wallet, error) {
	available := w.Available.Add(availableDelta)
	locked := w.Locked.Add(lockedDelta)

	if available.IsNegative() && !w.AllowsNegative() {
		return nil, Errorf(KindInsufficientFunds, "adjust",
			"%s wallet of %s has %s available, needs %s", w.AssetID, w.UserID, w.Available, availableDelta.Neg())
	}
	if locked.IsNegative() {
		s.logger.Error("ledger_consistency_fault",
			"wallet_id", w.ID,
			"user_id", w.UserID,
			"asset_id", w.AssetID,
			"locked", w.Locked.String(),
			"requested", lockedDelta.Neg().String(),
		)
		return nil, Errorf(KindInvalidLockState, "adjust",
			"%s wallet of %s has %s locked, cannot release %s", w.AssetID, w.UserID, w.Locked, lockedDelta.Neg())
	}

	w.Available = available
	w.Locked = locked
	if err := tx.Wallets().UpdateBalances(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}
