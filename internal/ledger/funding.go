package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
)

// Deposit mints amount into userID's wallet from outside the system.
func (e *Engine) Deposit(ctx context.Context, userID, assetID string, amount decimal.Decimal, ref, description string) (*TransferResult, error) {
	if description == "" {
		description = "Deposit"
	}
	return e.TransferFunds(ctx, TransferRequest{
		ToUserID:    userID,
		AssetID:     assetID,
		Amount:      amount,
		Type:        domain.EntryDeposit,
		ReferenceID: ref,
		Description: description,
	})
}

type WithdrawRequest struct {
	UserID      string
	AssetID     string
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// Withdrawal is the outcome of a burn: Amount left the user's wallet,
// ToAmount left the system and Fee went to the fee account.
type Withdrawal struct {
	ReferenceID string          `json:"reference_id"`
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	ToAmount    decimal.Decimal `json:"to_amount"`
	Fee         decimal.Decimal `json:"fee"`
	Entries     []*domain.Entry `json:"entries"`
	Duplicate   bool            `json:"duplicate"`
}

// WithdrawalFee returns the fixed fee charged for withdrawing assetID.
func (e *Engine) WithdrawalFee(assetID string) decimal.Decimal {
	return e.withdrawalFees[assetID]
}

// Withdraw burns req.Amount from the user's wallet. The fixed fee for the
// asset is credited to the fee account in the same batch.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*Withdrawal, error) {
	const op = "withdraw"

	if req.UserID == "" || domain.IsSystemAccount(req.UserID) {
		return nil, Errorf(KindValidation, op, "invalid user %q", req.UserID)
	}
	if err := validateAmount(op, req.AssetID, req.Amount); err != nil {
		return nil, err
	}
	if err := checkClientReference(op, req.ReferenceID); err != nil {
		return nil, err
	}
	fee := e.WithdrawalFee(req.AssetID)
	if req.Amount.LessThanOrEqual(fee) {
		return nil, Errorf(KindValidation, op, "amount too low to cover fees of %s %s", fee, req.AssetID)
	}
	if req.Description == "" {
		req.Description = "Bank Withdrawal"
	}

	toAmount := req.Amount.Sub(fee)
	postings := []Posting{
		{UserID: req.UserID, AssetID: req.AssetID, Amount: req.Amount.Neg(), Description: "Debit: " + req.Description},
		{UserID: domain.ExternalAccount, AssetID: req.AssetID, Amount: toAmount, Description: "Burn: " + req.Description},
	}
	if fee.IsPositive() {
		postings = append(postings, Posting{UserID: domain.FeeAccount, AssetID: req.AssetID, Amount: fee, Description: "Fee: " + req.Description})
	}

	res, err := e.postInTx(ctx, Batch{ReferenceID: req.ReferenceID, Type: domain.EntryWithdrawal, Postings: postings})
	if err != nil {
		return nil, err
	}

	if !res.Duplicate {
		e.notifier.Settled(ctx, events.Event{
			Type:        events.WithdrawalCompleted,
			ReferenceID: req.ReferenceID,
			Subject:     req.AssetID,
			Attributes: map[string]string{
				"user":      req.UserID,
				"amount":    req.Amount.String(),
				"to_amount": toAmount.String(),
				"fee":       fee.String(),
			},
		})
	}

	return &Withdrawal{
		ReferenceID: req.ReferenceID,
		AssetID:     req.AssetID,
		Amount:      req.Amount,
		ToAmount:    toAmount,
		Fee:         fee,
		Entries:     res.Entries,
		Duplicate:   res.Duplicate,
	}, nil
}
