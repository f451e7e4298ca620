package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LimitSide string

const (
	// LimitBuy spends the quote asset to acquire the base asset.
	LimitBuy LimitSide = "BUY"
	// LimitSell spends the base asset to acquire the quote asset.
	LimitSell LimitSide = "SELL"
)

type LimitStatus string

const (
	LimitOpen      LimitStatus = "OPEN"
	LimitFilled    LimitStatus = "FILLED"
	LimitCancelled LimitStatus = "CANCELLED"
)

// LimitOrder is an escrowed swap that settles when the market price of
// BaseAsset, quoted in QuoteAsset, crosses LimitPrice.
type LimitOrder struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Side         LimitSide       `json:"side"`
	BaseAsset    string          `json:"base_asset"`
	QuoteAsset   string          `json:"quote_asset"`
	Amount       decimal.Decimal `json:"amount"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	// FeeRate is the trading fee tier in force when the order was placed.
	FeeRate      decimal.Decimal `json:"fee_rate"`
	Status       LimitStatus     `json:"status"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	Fee          decimal.Decimal `json:"fee"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PayAsset is the asset escrowed for the order.
func (o *LimitOrder) PayAsset() string {
	if o.Side == LimitBuy {
		return o.QuoteAsset
	}
	return o.BaseAsset
}

// ReceiveAsset is the asset credited when the order fills.
func (o *LimitOrder) ReceiveAsset() string {
	if o.Side == LimitBuy {
		return o.BaseAsset
	}
	return o.QuoteAsset
}
