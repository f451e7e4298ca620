package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTransfer   EntryType = "TRANSFER"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryDeposit    EntryType = "DEPOSIT"
	EntryP2PLock    EntryType = "P2P_LOCK"
	EntryP2PRelease EntryType = "P2P_RELEASE"
	EntryP2PRefund  EntryType = "P2P_REFUND"
	EntryTrade      EntryType = "TRADE"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTransfer, EntryWithdrawal, EntryDeposit, EntryP2PLock, EntryP2PRelease, EntryP2PRefund, EntryTrade:
		return true
	}
	return false
}

// Bucket names the wallet balance an entry moved.
type Bucket string

const (
	BucketAvailable Bucket = "AVAILABLE"
	BucketLocked    Bucket = "LOCKED"
)

// Entry is one immutable leg of a balance movement. Amount is signed:
// negative debits the bucket, positive credits it.
type Entry struct {
	ID           string          `json:"id"`
	ReferenceID  string          `json:"reference_id"`
	WalletID     string          `json:"wallet_id"`
	AssetID      string          `json:"asset_id"`
	Bucket       Bucket          `json:"bucket"`
	Amount       decimal.Decimal `json:"amount"`
	Type         EntryType       `json:"type"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
