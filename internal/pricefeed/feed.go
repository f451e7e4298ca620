// Package pricefeed delivers market prices to the settlement workers.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one price update. An asset is quoted either by its USD price or,
// for fiat currencies, by how many units buy one dollar.
type Tick struct {
	Asset    string          `json:"asset"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	PerUSD   decimal.Decimal `json:"per_usd"`
	At       time.Time       `json:"at"`
}

func (t Tick) Validate() error {
	if strings.TrimSpace(t.Asset) == "" {
		return errors.New("tick asset is required")
	}
	if t.PriceUSD.IsPositive() == t.PerUSD.IsPositive() {
		return fmt.Errorf("tick for %s needs exactly one positive price_usd or per_usd", t.Asset)
	}
	return nil
}

// Handler consumes ticks. A handler error does not stop the feed.
type Handler func(ctx context.Context, t Tick) error

// Feed runs until ctx is done, passing every tick to h.
type Feed interface {
	Run(ctx context.Context, h Handler) error
}

// Static replays a fixed set of ticks once, then every interval if
// interval is positive. It stands in for a market data source in development.
type Static struct {
	Ticks    []Tick
	Interval time.Duration
	Now      func() time.Time
}

// DefaultTicks are reference prices for the supported assets.
func DefaultTicks() []Tick {
	usd := func(asset, price string) Tick {
		return Tick{Asset: asset, PriceUSD: decimal.RequireFromString(price)}
	}
	return []Tick{
		usd("BTC", "64230.50"),
		usd("ETH", "3450.20"),
		usd("USDT", "1"),
		usd("USDC", "1"),
		usd("SOL", "145.60"),
		usd("USD", "1"),
		{Asset: "NGN", PerUSD: decimal.NewFromInt(1550)},
	}
}

func (s *Static) Run(ctx context.Context, h Handler) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	emit := func() error {
		for _, t := range s.Ticks {
			t.At = now()
			if err := h(ctx, t); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	}
	if err := emit(); err != nil {
		return err
	}
	if s.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}
