package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// EscrowRequest moves Amount between the available and locked balances of
// one wallet. Type is P2P_LOCK/P2P_REFUND for P2P escrow or TRADE for
// limit orders.
type EscrowRequest struct {
	UserID      string
	AssetID     string
	Amount      decimal.Decimal
	ReferenceID string
	Type        domain.EntryType
	Description string
}

// LockFunds moves Amount from available to locked inside tx. It fails with
// InsufficientFunds when available < Amount.
func (e *Engine) LockFunds(ctx context.Context, tx domain.Tx, req EscrowRequest) ([]*domain.Entry, error) {
	if err := validateAmount("lock funds", req.AssetID, req.Amount); err != nil {
		return nil, err
	}
	return e.Post(ctx, tx, Batch{
		ReferenceID: req.ReferenceID,
		Type:        req.Type,
		Postings: []Posting{
			{UserID: req.UserID, AssetID: req.AssetID, Bucket: domain.BucketAvailable, Amount: req.Amount.Neg(), Description: "Lock: " + req.Description},
			{UserID: req.UserID, AssetID: req.AssetID, Bucket: domain.BucketLocked, Amount: req.Amount, Description: "Lock: " + req.Description},
		},
	})
}

// UnlockFunds moves Amount from locked back to available inside tx. It
// fails with InvalidLockState when locked < Amount, which means the
// escrow bookkeeping is already corrupt.
func (e *Engine) UnlockFunds(ctx context.Context, tx domain.Tx, req EscrowRequest) ([]*domain.Entry, error) {
	if err := validateAmount("unlock funds", req.AssetID, req.Amount); err != nil {
		return nil, err
	}
	return e.Post(ctx, tx, Batch{
		ReferenceID: req.ReferenceID,
		Type:        req.Type,
		Postings: []Posting{
			{UserID: req.UserID, AssetID: req.AssetID, Bucket: domain.BucketLocked, Amount: req.Amount.Neg(), Description: "Unlock: " + req.Description},
			{UserID: req.UserID, AssetID: req.AssetID, Bucket: domain.BucketAvailable, Amount: req.Amount, Description: "Unlock: " + req.Description},
		},
	})
}

// ReleaseRequest pays locked funds of FromUserID out to ToUserID. Fee, when
// positive, is withheld from the recipient and credited to the fee account.
type ReleaseRequest struct {
	FromUserID  string
	ToUserID    string
	AssetID     string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	ReferenceID string
	Type        domain.EntryType
	Description string
}

// ReleaseLocked debits the sender's locked balance by Amount and credits
// Amount-Fee to the recipient's available balance, all under one reference.
func (e *Engine) ReleaseLocked(ctx context.Context, tx domain.Tx, req ReleaseRequest) ([]*domain.Entry, error) {
	const op = "release locked"
	if err := validateAmount(op, req.AssetID, req.Amount); err != nil {
		return nil, err
	}
	if req.Fee.IsNegative() || req.Fee.GreaterThanOrEqual(req.Amount) {
		return nil, Errorf(KindValidation, op, "fee %s out of range for amount %s", req.Fee, req.Amount)
	}

	postings := []Posting{
		{UserID: req.FromUserID, AssetID: req.AssetID, Bucket: domain.BucketLocked, Amount: req.Amount.Neg(), Description: "Release: " + req.Description},
		{UserID: req.ToUserID, AssetID: req.AssetID, Bucket: domain.BucketAvailable, Amount: req.Amount.Sub(req.Fee), Description: "Receive: " + req.Description},
	}
	if req.Fee.IsPositive() {
		postings = append(postings, Posting{
			UserID: domain.FeeAccount, AssetID: req.AssetID, Bucket: domain.BucketAvailable, Amount: req.Fee, Description: "Fee: " + req.Description,
		})
	}

	return e.Post(ctx, tx, Batch{ReferenceID: req.ReferenceID, Type: req.Type, Postings: postings})
}
