package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
)

type Options struct {
	Fees   FeeSchedule
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	engine   *ledger.Engine
	store    domain.Store
	notifier *events.Notifier
	rates    *RateBook
	fees     FeeSchedule
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(engine *ledger.Engine, rates *RateBook, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		engine:   engine,
		store:    engine.Store(),
		notifier: engine.Notifier(),
		rates:    rates,
		fees:     opts.Fees,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

func (s *Service) Rates() *RateBook { return s.rates }

type MarketOrderRequest struct {
	UserID    string
	FromAsset string
	ToAsset   string
	Amount    decimal.Decimal
	// ReferenceID makes a retried request a no-op; one is generated when empty.
	ReferenceID string
	Corporate   bool
}

// Swap describes a settled market order. Gross is the converted amount
// before the fee; the user receives Net.
type Swap struct {
	ReferenceID string          `json:"reference_id"`
	FromAsset   string          `json:"from_asset"`
	ToAsset     string          `json:"to_asset"`
	Amount      decimal.Decimal `json:"amount"`
	Rate        decimal.Decimal `json:"rate"`
	Gross       decimal.Decimal `json:"gross"`
	Fee         decimal.Decimal `json:"fee"`
	Net         decimal.Decimal `json:"net"`
	Entries     []*domain.Entry `json:"entries"`
	Duplicate   bool            `json:"duplicate"`
}

// ExecuteMarketOrder swaps Amount of FromAsset into ToAsset at the current
// rate. Both legs and the fee are written as one batch, so the user never
// gives up the input without receiving the output.
func (s *Service) ExecuteMarketOrder(ctx context.Context, req MarketOrderRequest) (*Swap, error) {
	const op = "execute market order"

	if err := validateUser(op, req.UserID); err != nil {
		return nil, err
	}
	if req.FromAsset == req.ToAsset {
		return nil, ledger.Errorf(ledger.KindValidation, op, "cannot swap %s into itself", req.FromAsset)
	}
	if err := validateAmount(op, req.FromAsset, req.Amount); err != nil {
		return nil, err
	}
	out, ok := domain.LookupAsset(req.ToAsset)
	if !ok {
		return nil, ledger.Errorf(ledger.KindValidation, op, "unsupported asset %q", req.ToAsset)
	}
	if req.ReferenceID == "" {
		req.ReferenceID = ledger.NewReference("swap")
	}
	if ledger.IsSettlementReference(req.ReferenceID) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "reference id %q is reserved for settlement", req.ReferenceID)
	}

	converted, err := s.rates.Convert(req.Amount, req.FromAsset, req.ToAsset)
	if err != nil {
		return nil, err
	}
	gross := converted.Truncate(out.Scale)
	fee := gross.Mul(s.fees.Rate(req.Corporate)).Round(out.Scale)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return nil, ledger.Errorf(ledger.KindValidation, op, "%s %s is too small to swap into %s",
			req.Amount, req.FromAsset, req.ToAsset)
	}

	swap := &Swap{
		ReferenceID: req.ReferenceID,
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		Amount:      req.Amount,
		Rate:        converted.DivRound(req.Amount, quotePrecision),
		Gross:       gross,
		Fee:         fee,
		Net:         net,
	}
	batch := ledger.Batch{
		ReferenceID: req.ReferenceID,
		Type:        domain.EntryTrade,
		Postings: swapPostings(swapLegs{
			userID:    req.UserID,
			payAsset:  req.FromAsset,
			payBucket: domain.BucketAvailable,
			paid:      req.Amount,
			getAsset:  req.ToAsset,
			gross:     gross,
			fee:       fee,
			label:     req.FromAsset + "->" + req.ToAsset,
		}),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		swap.Entries, err = s.engine.Post(ctx, tx, batch)
		return err
	})
	if errors.Is(err, ledger.ErrDuplicate) {
		return s.replaySwap(ctx, req, batch)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("market_order_filled",
		"reference_id", swap.ReferenceID, "user_id", req.UserID,
		"from", req.FromAsset, "to", req.ToAsset, "amount", req.Amount.String(), "net", net.String())
	s.notifier.Settled(ctx, events.Event{
		Type:        events.TradeMarketFilled,
		ReferenceID: swap.ReferenceID,
		Subject:     req.UserID,
		Attributes: map[string]string{
			"from":   req.FromAsset,
			"to":     req.ToAsset,
			"amount": req.Amount.String(),
			"gross":  gross.String(),
			"fee":    fee.String(),
		},
	})
	return swap, nil
}

// replaySwap answers a retried market order with the fill that was booked
// the first time. The rate may have moved since, so only the user's input
// leg is compared; the rest is rebuilt from the stored entries.
func (s *Service) replaySwap(ctx context.Context, req MarketOrderRequest, batch ledger.Batch) (*Swap, error) {
	const op = "execute market order"

	original, err := s.engine.Replay(ctx, batch, func(p ledger.Posting) bool {
		return p.UserID == req.UserID && p.Amount.IsNegative()
	})
	if err != nil {
		return nil, err
	}

	var receiveWallet string
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		w, err := s.engine.Wallets().Find(ctx, tx, req.UserID, req.ToAsset)
		if err != nil {
			return err
		}
		receiveWallet = w.ID
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrWalletNotFound) {
		return nil, err
	}

	swap := &Swap{
		ReferenceID: req.ReferenceID,
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		Entries:     original,
		Duplicate:   true,
	}
	for _, e := range original {
		switch {
		case e.AssetID == req.FromAsset && e.Amount.IsNegative():
			swap.Amount = swap.Amount.Sub(e.Amount)
		case e.AssetID == req.ToAsset && e.Amount.IsNegative():
			swap.Gross = swap.Gross.Sub(e.Amount)
		case e.AssetID == req.ToAsset && e.WalletID == receiveWallet:
			swap.Net = swap.Net.Add(e.Amount)
		}
	}
	if !swap.Net.IsPositive() || !swap.Amount.IsPositive() {
		return nil, ledger.Errorf(ledger.KindDuplicate, op, "reference %s was used for a different movement", req.ReferenceID)
	}
	swap.Fee = swap.Gross.Sub(swap.Net)
	swap.Rate = swap.Gross.DivRound(swap.Amount, quotePrecision)
	return swap, nil
}

// swapLegs is one settlement against the liquidity account: the user pays
// paid of payAsset from payBucket and receives gross-fee of getAsset.
type swapLegs struct {
	userID    string
	payAsset  string
	payBucket domain.Bucket
	paid      decimal.Decimal
	getAsset  string
	gross     decimal.Decimal
	fee       decimal.Decimal
	label     string
}

func swapPostings(l swapLegs) []ledger.Posting {
	postings := []ledger.Posting{
		{UserID: l.userID, AssetID: l.payAsset, Bucket: l.payBucket, Amount: l.paid.Neg(), Description: "Swap out: " + l.label},
		{UserID: domain.LiquidityAccount, AssetID: l.payAsset, Amount: l.paid, Description: "Swap in: " + l.label},
		{UserID: domain.LiquidityAccount, AssetID: l.getAsset, Amount: l.gross.Neg(), Description: "Swap out: " + l.label},
		{UserID: l.userID, AssetID: l.getAsset, Amount: l.gross.Sub(l.fee), Description: "Swap in: " + l.label},
	}
	if l.fee.IsPositive() {
		postings = append(postings, ledger.Posting{
			UserID: domain.FeeAccount, AssetID: l.getAsset, Amount: l.fee, Description: "Trading fee: " + l.label,
		})
	}
	return postings
}

func validateUser(op, userID string) error {
	if userID == "" || domain.IsSystemAccount(userID) {
		return ledger.Errorf(ledger.KindValidation, op, "invalid user %q", userID)
	}
	return nil
}

func validateAmount(op, assetID string, amount decimal.Decimal) error {
	asset, ok := domain.LookupAsset(assetID)
	if !ok {
		return ledger.Errorf(ledger.KindValidation, op, "unsupported asset %q", assetID)
	}
	if !amount.IsPositive() {
		return ledger.Errorf(ledger.KindValidation, op, "amount must be positive, got %s", amount)
	}
	if !asset.Fits(amount) {
		return ledger.Errorf(ledger.KindValidation, op, "%s supports %d decimal places", asset.ID, asset.Scale)
	}
	return nil
}
