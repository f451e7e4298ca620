// Package p2p runs peer-to-peer escrow trades: makers post ads, takers
// open orders against them, and the seller's asset stays locked until it
// is released to the buyer or refunded.
package p2p

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
)

// DefaultPaymentWindow is how long a buyer has to pay before the order
// may be cancelled by the expiry sweep.
const DefaultPaymentWindow = 15 * time.Minute

type Options struct {
	PaymentWindow time.Duration
	// FeeRate is withheld from the buyer's credit on release.
	FeeRate decimal.Decimal
	Logger  *slog.Logger
	Now     func() time.Time
}

type Service struct {
	engine        *ledger.Engine
	store         domain.Store
	notifier      *events.Notifier
	paymentWindow time.Duration
	feeRate       decimal.Decimal
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(engine *ledger.Engine, opts Options) *Service {
	if opts.PaymentWindow <= 0 {
		opts.PaymentWindow = DefaultPaymentWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		engine:        engine,
		store:         engine.Store(),
		notifier:      engine.Notifier(),
		paymentWindow: opts.PaymentWindow,
		feeRate:       opts.FeeRate,
		logger:        opts.Logger,
		now:           opts.Now,
	}
}

// Lock, release and refund references are derived from the order id, so
// each settlement of an order can be applied at most once.
func lockReference(orderID string) string { return "p2p_lock_" + orderID }
func releaseReference(orderID string) string { return "p2p_release_" + orderID }
func refundReference(orderID string) string { return "p2p_refund_" + orderID }

type CreateAdRequest struct {
	MakerID         string
	Side            domain.AdSide
	AssetID         string
	FiatAssetID     string
	Price           decimal.Decimal
	MinLimit        decimal.Decimal
	MaxLimit        decimal.Decimal
	AvailableAmount decimal.Decimal
	PaymentMethods  []string
}

func (s *Service) CreateAd(ctx context.Context, req CreateAdRequest) (*domain.Ad, error) {
	const op = "create ad"

	if req.MakerID == "" || domain.IsSystemAccount(req.MakerID) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "invalid maker %q", req.MakerID)
	}
	if req.Side != domain.AdSell && req.Side != domain.AdBuy {
		return nil, ledger.Errorf(ledger.KindValidation, op, "unknown side %q", req.Side)
	}
	asset, ok := domain.LookupAsset(req.AssetID)
	if !ok || asset.Kind != domain.AssetCrypto {
		return nil, ledger.Errorf(ledger.KindValidation, op, "%q is not a tradable crypto asset", req.AssetID)
	}
	fiat, ok := domain.LookupAsset(req.FiatAssetID)
	if !ok || fiat.Kind != domain.AssetFiat {
		return nil, ledger.Errorf(ledger.KindValidation, op, "%q is not a fiat asset", req.FiatAssetID)
	}
	if !req.Price.IsPositive() {
		return nil, ledger.Errorf(ledger.KindValidation, op, "price must be positive")
	}
	if !req.MinLimit.IsPositive() || req.MaxLimit.LessThan(req.MinLimit) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "limits %s-%s are invalid", req.MinLimit, req.MaxLimit)
	}
	if !fiat.Fits(req.MinLimit) || !fiat.Fits(req.MaxLimit) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "%s limits support %d decimal places", fiat.ID, fiat.Scale)
	}
	if !req.AvailableAmount.IsPositive() || !asset.Fits(req.AvailableAmount) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "invalid available amount %s", req.AvailableAmount)
	}

	now := s.now().UTC()
	ad := &domain.Ad{
		ID:              uuid.NewString(),
		MakerID:         req.MakerID,
		Side:            req.Side,
		AssetID:         req.AssetID,
		FiatAssetID:     req.FiatAssetID,
		Price:           req.Price,
		MinLimit:        req.MinLimit,
		MaxLimit:        req.MaxLimit,
		AvailableAmount: req.AvailableAmount,
		PaymentMethods:  req.PaymentMethods,
		Status:          domain.AdActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ads().Create(ctx, ad)
	})
	if err != nil {
		return nil, err
	}
	return ad, nil
}

// CloseAd stops new orders against the ad. Orders already open keep
// their escrow and settle normally.
func (s *Service) CloseAd(ctx context.Context, actor Actor, adID string) (*domain.Ad, error) {
	const op = "close ad"

	var ad *domain.Ad
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ad, err = s.lockAd(ctx, tx, op, adID)
		if err != nil {
			return err
		}
		if !actor.is(ad.MakerID) && actor.Role != RoleAdmin {
			return ledger.Errorf(ledger.KindUnauthorized, op, "only the maker can close ad %s", adID)
		}
		if ad.Status == domain.AdClosed {
			return nil
		}
		ad.Status = domain.AdClosed
		return tx.Ads().Update(ctx, ad)
	})
	if err != nil {
		return nil, err
	}
	return ad, nil
}

func (s *Service) ListAds(ctx context.Context, filter domain.AdFilter) ([]*domain.Ad, error) {
	var ads []*domain.Ad
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ads, err = tx.Ads().List(ctx, filter)
		return err
	})
	return ads, err
}

// CreateOrder commits takerID to fiatAmount against the ad. In one
// transaction it reserves the ad capacity, locks the seller's asset and
// stores the order.
func (s *Service) CreateOrder(ctx context.Context, takerID, adID string, fiatAmount decimal.Decimal) (*domain.Order, error) {
	const op = "create order"

	if takerID == "" || domain.IsSystemAccount(takerID) {
		return nil, ledger.Errorf(ledger.KindValidation, op, "invalid taker %q", takerID)
	}

	var order *domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ad, err := s.lockAd(ctx, tx, op, adID)
		if err != nil {
			return err
		}
		if ad.Status != domain.AdActive {
			return ledger.Errorf(ledger.KindAdUnavailable, op, "ad %s is %s", ad.ID, ad.Status)
		}
		if ad.MakerID == takerID {
			return ledger.Errorf(ledger.KindValidation, op, "cannot trade against your own ad")
		}

		fiat, _ := domain.LookupAsset(ad.FiatAssetID)
		asset, _ := domain.LookupAsset(ad.AssetID)
		if !fiatAmount.IsPositive() || !fiat.Fits(fiatAmount) {
			return ledger.Errorf(ledger.KindValidation, op, "invalid %s amount %s", fiat.ID, fiatAmount)
		}
		if fiatAmount.LessThan(ad.MinLimit) || fiatAmount.GreaterThan(ad.MaxLimit) {
			return ledger.Errorf(ledger.KindValidation, op, "%s %s is outside the ad limits %s-%s",
				fiatAmount, fiat.ID, ad.MinLimit, ad.MaxLimit)
		}

		cryptoAmount := fiatAmount.Div(ad.Price).Truncate(asset.Scale)
		if !cryptoAmount.IsPositive() {
			return ledger.Errorf(ledger.KindValidation, op, "%s %s buys nothing at %s", fiatAmount, fiat.ID, ad.Price)
		}
		if cryptoAmount.GreaterThan(ad.AvailableAmount) {
			return ledger.Errorf(ledger.KindAdUnavailable, op, "ad %s has %s %s left, order needs %s",
				ad.ID, ad.AvailableAmount, asset.ID, cryptoAmount)
		}

		buyerID, sellerID := takerID, ad.MakerID
		if ad.Side == domain.AdBuy {
			buyerID, sellerID = ad.MakerID, takerID
		}

		now := s.now().UTC()
		order = &domain.Order{
			ID:           uuid.NewString(),
			AdID:         ad.ID,
			BuyerID:      buyerID,
			SellerID:     sellerID,
			AssetID:      ad.AssetID,
			FiatAssetID:  ad.FiatAssetID,
			FiatAmount:   fiatAmount,
			CryptoAmount: cryptoAmount,
			Price:        ad.Price,
			Fee:          decimal.Zero,
			Status:       domain.OrderCreated,
			ExpiresAt:    now.Add(s.paymentWindow),
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := s.engine.LockFunds(ctx, tx, ledger.EscrowRequest{
			UserID:      sellerID,
			AssetID:     ad.AssetID,
			Amount:      cryptoAmount,
			ReferenceID: lockReference(order.ID),
			Type:        domain.EntryP2PLock,
			Description: "P2P order " + order.ID,
		}); err != nil {
			return err
		}

		ad.AvailableAmount = ad.AvailableAmount.Sub(cryptoAmount)
		if err := tx.Ads().Update(ctx, ad); err != nil {
			return err
		}
		return tx.Orders().Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.settled(ctx, events.P2POrderCreated, order, lockReference(order.ID))
	return order, nil
}

// MarkPaid records the buyer's claim that the fiat payment was sent.
func (s *Service) MarkPaid(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	order, err := s.update(ctx, OpMarkPaid, orderID, func(ctx context.Context, tx domain.Tx, o *domain.Order) error {
		if !actor.is(o.BuyerID) {
			return ledger.Errorf(ledger.KindUnauthorized, OpMarkPaid, "only the buyer can mark order %s paid", o.ID)
		}
		return transition(o, domain.OrderPaid, OpMarkPaid)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, events.P2POrderPaid, order, "")
	return order, nil
}

// Release pays the locked asset out to the buyer.
func (s *Service) Release(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	order, err := s.update(ctx, OpRelease, orderID, func(ctx context.Context, tx domain.Tx, o *domain.Order) error {
		if !actor.is(o.SellerID) {
			return ledger.Errorf(ledger.KindUnauthorized, OpRelease, "only the seller can release order %s", o.ID)
		}
		if err := transition(o, domain.OrderCompleted, OpRelease); err != nil {
			return err
		}
		return s.settleRelease(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, events.P2POrderCompleted, order, releaseReference(order.ID))
	return order, nil
}

// Cancel refunds the seller and returns the capacity to the ad. The buyer
// may cancel while the order is CREATED; the scheduler only once the
// payment window has passed.
func (s *Service) Cancel(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	order, err := s.update(ctx, OpCancel, orderID, func(ctx context.Context, tx domain.Tx, o *domain.Order) error {
		switch {
		case actor.is(o.BuyerID):
		case actor.Role == RoleScheduler:
			if !s.now().After(o.ExpiresAt) {
				return ledger.Errorf(ledger.KindUnauthorized, OpCancel, "order %s has not expired", o.ID)
			}
		default:
			return ledger.Errorf(ledger.KindUnauthorized, OpCancel, "only the buyer can cancel order %s", o.ID)
		}
		if err := transition(o, domain.OrderCancelled, OpCancel); err != nil {
			return err
		}
		return s.settleRefund(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, events.P2POrderCancelled, order, refundReference(order.ID))
	return order, nil
}

// OpenDispute escalates a paid order to an administrator. Either party may open it.
func (s *Service) OpenDispute(ctx context.Context, actor Actor, orderID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ledger.Errorf(ledger.KindValidation, OpDispute, "a dispute reason is required")
	}
	order, err := s.update(ctx, OpDispute, orderID, func(ctx context.Context, tx domain.Tx, o *domain.Order) error {
		if !actor.is(o.BuyerID) && !actor.is(o.SellerID) {
			return ledger.Errorf(ledger.KindUnauthorized, OpDispute, "only a party to order %s can dispute it", o.ID)
		}
		if err := transition(o, domain.OrderDispute, OpDispute); err != nil {
			return err
		}
		o.DisputeReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, events.P2POrderDisputed, order, "")
	return order, nil
}

// Outcome names the party a dispute is resolved for.
type Outcome string

const (
	OutcomeBuyer  Outcome = "BUYER"
	OutcomeSeller Outcome = "SELLER"
)

// ResolveDispute settles a disputed order through the same release and
// refund paths the parties use.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, orderID string, outcome Outcome) (*domain.Order, error) {
	if actor.Role != RoleAdmin {
		return nil, ledger.Errorf(ledger.KindUnauthorized, OpResolve, "only an administrator can resolve disputes")
	}

	var ref string
	order, err := s.update(ctx, OpResolve, orderID, func(ctx context.Context, tx domain.Tx, o *domain.Order) error {
		switch outcome {
		case OutcomeBuyer:
			if err := transition(o, domain.OrderResolvedBuyer, OpResolve); err != nil {
				return err
			}
			ref = releaseReference(o.ID)
			return s.settleRelease(ctx, tx, o)
		case OutcomeSeller:
			if err := transition(o, domain.OrderResolvedSeller, OpResolve); err != nil {
				return err
			}
			ref = refundReference(o.ID)
			return s.settleRefund(ctx, tx, o)
		}
		return ledger.Errorf(ledger.KindValidation, OpResolve, "unknown outcome %q", outcome)
	})
	if err != nil {
		return nil, err
	}
	s.settled(ctx, events.P2POrderResolved, order, ref)
	return order, nil
}

// GetOrder returns the order to one of its parties or an administrator.
func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return ledger.Errorf(ledger.KindNotFound, "get order", "order %s not found", orderID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !actor.is(order.BuyerID) && !actor.is(order.SellerID) && actor.Role != RoleAdmin {
		return nil, ledger.Errorf(ledger.KindUnauthorized, "get order", "order %s belongs to other users", orderID)
	}
	return order, nil
}

// update loads the order under lock, lets fn mutate it and persists the
// result, all in one transaction.
func (s *Service) update(ctx context.Context, op, orderID string, fn func(ctx context.Context, tx domain.Tx, o *domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return ledger.Errorf(ledger.KindNotFound, op, "order %s not found", orderID)
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
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

func (s *Service) settleRelease(ctx context.Context, tx domain.Tx, o *domain.Order) error {
	asset, _ := domain.LookupAsset(o.AssetID)
	o.Fee = o.CryptoAmount.Mul(s.feeRate).Round(asset.Scale)
	_, err := s.engine.ReleaseLocked(ctx, tx, ledger.ReleaseRequest{
		FromUserID:  o.SellerID,
		ToUserID:    o.BuyerID,
		AssetID:     o.AssetID,
		Amount:      o.CryptoAmount,
		Fee:         o.Fee,
		ReferenceID: releaseReference(o.ID),
		Type:        domain.EntryP2PRelease,
		Description: "P2P order " + o.ID,
	})
	return err
}

func (s *Service) settleRefund(ctx context.Context, tx domain.Tx, o *domain.Order) error {
	if _, err := s.engine.UnlockFunds(ctx, tx, ledger.EscrowRequest{
		UserID:      o.SellerID,
		AssetID:     o.AssetID,
		Amount:      o.CryptoAmount,
		ReferenceID: refundReference(o.ID),
		Type:        domain.EntryP2PRefund,
		Description: "P2P order " + o.ID,
	}); err != nil {
		return err
	}

	ad, err := tx.Ads().GetForUpdate(ctx, o.AdID)
	if err != nil {
		return err
	}
	ad.AvailableAmount = ad.AvailableAmount.Add(o.CryptoAmount)
	return tx.Ads().Update(ctx, ad)
}

func (s *Service) lockAd(ctx context.Context, tx domain.Tx, op, adID string) (*domain.Ad, error) {
	ad, err := tx.Ads().GetForUpdate(ctx, adID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ledger.Errorf(ledger.KindNotFound, op, "ad %s not found", adID)
	}
	return ad, err
}

func (s *Service) settled(ctx context.Context, eventType string, o *domain.Order, ref string) {
	s.logger.Info("p2p_order_"+strings.ToLower(string(o.Status)), "order_id", o.ID, "ad_id", o.AdID)
	if ref == "" {
		ref = o.ID
	}
	s.notifier.Settled(ctx, events.Event{
		Type:        eventType,
		ReferenceID: ref,
		Subject:     o.ID,
		Attributes: map[string]string{
			"buyer":         o.BuyerID,
			"seller":        o.SellerID,
			"asset":         o.AssetID,
			"crypto_amount": o.CryptoAmount.String(),
			"fiat_amount":   o.FiatAmount.String(),
			"status":        string(o.Status),
		},
	})
}
