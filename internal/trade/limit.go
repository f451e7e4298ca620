package trade

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/pricefeed"
)

func limitLockReference(id string) string { return "limit_lock_" + id }
func limitCancelReference(id string) string { return "limit_cancel_" + id }
func limitFillReference(id string) string { return "limit_fill_" + id }

type LimitOrderRequest struct {
	UserID     string
	Side       domain.LimitSide
	BaseAsset  string
	QuoteAsset string
	// Amount is in the paid asset: quote for BUY, base for SELL.
	Amount     decimal.Decimal
	LimitPrice decimal.Decimal
	Corporate  bool
}

// PlaceLimitOrder escrows the paid asset and records the order as OPEN.
func (s *Service) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*domain.LimitOrder, error) {
	const op = "place limit order"

	if err := validateUser(op, req.UserID); err != nil {
		return nil, err
	}
	if req.Side != domain.LimitBuy && req.Side != domain.LimitSell {
		return nil, ledger.Errorf(ledger.KindValidation, op, "unknown side %q", req.Side)
	}
	if req.BaseAsset == req.QuoteAsset {
		return nil, ledger.Errorf(ledger.KindValidation, op, "base and quote must differ")
	}
	for _, a := range []string{req.BaseAsset, req.QuoteAsset} {
		if _, ok := domain.LookupAsset(a); !ok {
			return nil, ledger.Errorf(ledger.KindValidation, op, "unsupported asset %q", a)
		}
	}
	if !req.LimitPrice.IsPositive() {
		return nil, ledger.Errorf(ledger.KindValidation, op, "limit price must be positive")
	}

	now := s.now().UTC()
	order := &domain.LimitOrder{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Side:         req.Side,
		BaseAsset:    req.BaseAsset,
		QuoteAsset:   req.QuoteAsset,
		Amount:       req.Amount,
		LimitPrice:   req.LimitPrice,
		FeeRate:      s.fees.Rate(req.Corporate),
		Status:       domain.LimitOpen,
		FilledAmount: decimal.Zero,
		Fee:          decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateAmount(op, order.PayAsset(), req.Amount); err != nil {
		return nil, err
	}
	if _, _, err := fill(order); err != nil {
		return nil, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := s.engine.LockFunds(ctx, tx, ledger.EscrowRequest{
			UserID:      order.UserID,
			AssetID:     order.PayAsset(),
			Amount:      order.Amount,
			ReferenceID: limitLockReference(order.ID),
			Type:        domain.EntryTrade,
			Description: "limit order " + order.ID,
		}); err != nil {
			return err
		}
		return tx.LimitOrders().Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("limit_order_placed", "order_id", order.ID, "user_id", order.UserID,
		"side", string(order.Side), "base", order.BaseAsset, "quote", order.QuoteAsset, "limit_price", order.LimitPrice.String())
	s.limitEvent(ctx, events.TradeLimitPlaced, order, limitLockReference(order.ID))
	return order, nil
}

// CancelLimitOrder returns the escrow of an OPEN order to its owner.
func (s *Service) CancelLimitOrder(ctx context.Context, userID, orderID string) (*domain.LimitOrder, error) {
	const op = "cancel limit order"

	order, err := s.updateLimit(ctx, op, orderID, func(ctx context.Context, tx domain.Tx, o *domain.LimitOrder) error {
		if o.UserID != userID {
			return ledger.Errorf(ledger.KindUnauthorized, op, "limit order %s belongs to another user", o.ID)
		}
		if o.Status != domain.LimitOpen {
			return ledger.Errorf(ledger.KindOrderStateViolation, op, "limit order %s is %s", o.ID, o.Status)
		}
		if _, err := s.engine.UnlockFunds(ctx, tx, ledger.EscrowRequest{
			UserID:      o.UserID,
			AssetID:     o.PayAsset(),
			Amount:      o.Amount,
			ReferenceID: limitCancelReference(o.ID),
			Type:        domain.EntryTrade,
			Description: "limit order " + o.ID,
		}); err != nil {
			return err
		}
		o.Status = domain.LimitCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("limit_order_cancelled", "order_id", order.ID, "user_id", order.UserID)
	s.limitEvent(ctx, events.TradeLimitCancelled, order, limitCancelReference(order.ID))
	return order, nil
}

// OnTick records the price and settles every open order on the ticked
// asset whose limit the market has crossed. Each order settles in its own
// transaction; a failure is logged and the rest still settle. It returns
// the number of orders filled.
func (s *Service) OnTick(ctx context.Context, t pricefeed.Tick) (int, error) {
	if err := s.rates.Apply(t); err != nil {
		return 0, err
	}

	var open []*domain.LimitOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		open, err = tx.LimitOrders().ListOpen(ctx, t.Asset)
		return err
	})
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, o := range open {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.triggered(o)
		if err != nil {
			s.logger.Warn("limit_order_unpriced", "order_id", o.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := s.settleLimit(ctx, o.ID); err != nil {
			s.logger.Error("limit_order_settle_failed", "order_id", o.ID, "error", err)
			continue
		}
		filled++
	}
	if filled > 0 {
		s.logger.Info("limit_orders_settled", "asset", t.Asset, "open", len(open), "filled", filled)
	}
	return filled, nil
}

// triggered reports whether the market price of base in quote has reached
// the order's limit: at or below it for BUY, at or above it for SELL.
func (s *Service) triggered(o *domain.LimitOrder) (bool, error) {
	market, err := s.rates.Quote(o.BaseAsset, o.QuoteAsset)
	if err != nil {
		return false, err
	}
	if o.Side == domain.LimitBuy {
		return market.LessThanOrEqual(o.LimitPrice), nil
	}
	return market.GreaterThanOrEqual(o.LimitPrice), nil
}

// settleLimit fills the order at its limit price from the escrowed balance.
func (s *Service) settleLimit(ctx context.Context, orderID string) (*domain.LimitOrder, error) {
	const op = "settle limit order"

	order, err := s.updateLimit(ctx, op, orderID, func(ctx context.Context, tx domain.Tx, o *domain.LimitOrder) error {
		if o.Status != domain.LimitOpen {
			return ledger.Errorf(ledger.KindOrderStateViolation, op, "limit order %s is %s", o.ID, o.Status)
		}
		gross, fee, err := fill(o)
		if err != nil {
			return err
		}
		if _, err := s.engine.Post(ctx, tx, ledger.Batch{
			ReferenceID: limitFillReference(o.ID),
			Type:        domain.EntryTrade,
			Postings: swapPostings(swapLegs{
				userID:    o.UserID,
				payAsset:  o.PayAsset(),
				payBucket: domain.BucketLocked,
				paid:      o.Amount,
				getAsset:  o.ReceiveAsset(),
				gross:     gross,
				fee:       fee,
				label:     "limit order " + o.ID,
			}),
		}); err != nil {
			return err
		}
		o.Status = domain.LimitFilled
		o.FilledAmount = gross
		o.Fee = fee
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("limit_order_filled", "order_id", order.ID, "user_id", order.UserID,
		"filled", order.FilledAmount.String(), "fee", order.Fee.String())
	s.limitEvent(ctx, events.TradeLimitFilled, order, limitFillReference(order.ID))
	return order, nil
}

// fill computes the output of o at its limit price and the fee withheld
// from it.
func fill(o *domain.LimitOrder) (gross, fee decimal.Decimal, err error) {
	out, _ := domain.LookupAsset(o.ReceiveAsset())
	if o.Side == domain.LimitBuy {
		gross = o.Amount.DivRound(o.LimitPrice, quotePrecision).Truncate(out.Scale)
	} else {
		gross = o.Amount.Mul(o.LimitPrice).Truncate(out.Scale)
	}
	fee = gross.Mul(o.FeeRate).Round(out.Scale)
	if !gross.Sub(fee).IsPositive() {
		return decimal.Zero, decimal.Zero, ledger.Errorf(ledger.KindValidation, "limit fill",
			"%s %s at %s fills nothing", o.Amount, o.PayAsset(), o.LimitPrice)
	}
	return gross, fee, nil
}

func (s *Service) GetLimitOrder(ctx context.Context, userID, orderID string) (*domain.LimitOrder, error) {
	var order *domain.LimitOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.LimitOrders().Get(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return ledger.Errorf(ledger.KindNotFound, "get limit order", "limit order %s not found", orderID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ledger.Errorf(ledger.KindUnauthorized, "get limit order", "limit order %s belongs to another user", orderID)
	}
	return order, nil
}

func (s *Service) updateLimit(ctx context.Context, op, orderID string, fn func(ctx context.Context, tx domain.Tx, o *domain.LimitOrder) error) (*domain.LimitOrder, error) {
	var order *domain.LimitOrder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.LimitOrders().GetForUpdate(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return ledger.Errorf(ledger.KindNotFound, op, "limit order %s not found", orderID)
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.LimitOrders().Update(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) limitEvent(ctx context.Context, eventType string, o *domain.LimitOrder, ref string) {
	s.notifier.Settled(ctx, events.Event{
		Type:        eventType,
		ReferenceID: ref,
		Subject:     o.ID,
		Attributes: map[string]string{
			"user":        o.UserID,
			"side":        string(o.Side),
			"base":        o.BaseAsset,
			"quote":       o.QuoteAsset,
			"amount":      o.Amount.String(),
			"limit_price": o.LimitPrice.String(),
			"status":      string(o.Status),
		},
	})
}
