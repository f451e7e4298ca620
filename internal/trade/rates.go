// Package trade settles market swaps and limit orders against the house
// liquidity account.
package trade

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/pricefeed"
)

// quotePrecision is the number of decimal places kept by a conversion
// before the result is cut to the output asset's scale.
const quotePrecision = 18

// price values one unit of an asset at usd/per dollars. USD-priced assets
// carry per = 1; fiat quoted per dollar carries usd = 1.
type price struct {
	usd decimal.Decimal
	per decimal.Decimal
	at  time.Time
}

// RateBook holds the latest USD price of every asset. All conversions are
// bridged through USD.
type RateBook struct {
	mu     sync.RWMutex
	prices map[string]price
	maxAge time.Duration
	now    func() time.Time
}

// NewRateBook returns an empty book. Prices older than maxAge are refused;
// a zero maxAge never expires them.
func NewRateBook(maxAge time.Duration, now func() time.Time) *RateBook {
	if now == nil {
		now = time.Now
	}
	return &RateBook{prices: map[string]price{}, maxAge: maxAge, now: now}
}

// Apply records t. Ticks older than the price already held are ignored.
func (b *RateBook) Apply(t pricefeed.Tick) error {
	if err := t.Validate(); err != nil {
		return ledger.Wrap(ledger.KindValidation, "apply tick", err)
	}
	at := t.At
	if at.IsZero() {
		at = b.now()
	}
	p := price{usd: t.PriceUSD, per: decimal.NewFromInt(1), at: at}
	if t.PerUSD.IsPositive() {
		p = price{usd: decimal.NewFromInt(1), per: t.PerUSD, at: at}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.prices[t.Asset]; ok && cur.at.After(at) {
		return nil
	}
	b.prices[t.Asset] = p
	return nil
}

// Seed applies ticks stamped with the current time.
func (b *RateBook) Seed(ticks []pricefeed.Tick) error {
	for _, t := range ticks {
		t.At = b.now()
		if err := b.Apply(t); err != nil {
			return err
		}
	}
	return nil
}

func (b *RateBook) lookup(op, asset string) (price, error) {
	b.mu.RLock()
	p, ok := b.prices[asset]
	b.mu.RUnlock()
	if !ok {
		return price{}, ledger.Errorf(ledger.KindValidation, op, "no price for %s", asset)
	}
	if b.maxAge > 0 && b.now().Sub(p.at) > b.maxAge {
		return price{}, ledger.Errorf(ledger.KindValidation, op, "price for %s is stale (%s)", asset, p.at.Format(time.RFC3339))
	}
	return p, nil
}

// Convert values amount of from in units of to, before any rounding to
// the output scale.
func (b *RateBook) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	const op = "convert"
	pf, err := b.lookup(op, from)
	if err != nil {
		return decimal.Zero, err
	}
	pt, err := b.lookup(op, to)
	if err != nil {
		return decimal.Zero, err
	}
	num := amount.Mul(pf.usd).Mul(pt.per)
	den := pf.per.Mul(pt.usd)
	return num.DivRound(den, quotePrecision), nil
}

// Quote is the market price of one unit of base in quote.
func (b *RateBook) Quote(base, quote string) (decimal.Decimal, error) {
	return b.Convert(decimal.NewFromInt(1), base, quote)
}

// USDPrice is the USD value of one unit of asset.
func (b *RateBook) USDPrice(asset string) (decimal.Decimal, error) {
	p, err := b.lookup("usd price", asset)
	if err != nil {
		return decimal.Zero, err
	}
	return p.usd.DivRound(p.per, quotePrecision), nil
}
