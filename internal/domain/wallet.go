// Package domain holds the entities moved by the escrow engine and the
// repository contracts the storage backends implement.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// System accounts. They own ordinary wallets keyed by asset.
const (
	// ExternalAccount is the contra account for value entering or leaving
	// the system (deposits and withdrawals). It is the only account whose
	// available balance may go negative.
	ExternalAccount = "system:external"
	// FeeAccount collects trading, withdrawal and P2P fees.
	FeeAccount = "system:fees"
	// LiquidityAccount is the house counterparty for swaps.
	LiquidityAccount = "system:liquidity"
)

// IsSystemAccount reports whether userID names one of the system accounts.
func IsSystemAccount(userID string) bool {
	return strings.HasPrefix(userID, "system:")
}

// Wallet is the balance record for one (user, asset) pair.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns available + locked.
func (w *Wallet) Total() decimal.Decimal {
	return w.Available.Add(w.Locked)
}

// AllowsNegative reports whether the wallet may carry a negative available balance.
func (w *Wallet) AllowsNegative() bool {
	return w.UserID == ExternalAccount
}

// Balance returns the value of the given bucket.
func (w *Wallet) Balance(b Bucket) decimal.Decimal {
	if b == BucketLocked {
		return w.Locked
	}
	return w.Available
}
