package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdSide is the maker's side of a P2P ad.
type AdSide string

const (
	// AdSell means the maker sells the asset; takers buy.
	AdSell AdSide = "SELL"
	// AdBuy means the maker buys the asset; takers sell.
	AdBuy AdSide = "BUY"
)

type AdStatus string

const (
	AdActive AdStatus = "ACTIVE"
	AdClosed AdStatus = "CLOSED"
)

// Ad is a maker's standing P2P offer at a fixed fiat price.
type Ad struct {
	ID              string          `json:"id"`
	MakerID         string          `json:"maker_id"`
	Side            AdSide          `json:"side"`
	AssetID         string          `json:"asset_id"`
	FiatAssetID     string          `json:"fiat_asset_id"`
	Price           decimal.Decimal `json:"price"`
	MinLimit        decimal.Decimal `json:"min_limit"`
	MaxLimit        decimal.Decimal `json:"max_limit"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentMethods  []string        `json:"payment_methods"`
	Status          AdStatus        `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderStatus is the state of a P2P order.
type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderPaid           OrderStatus = "PAID"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderDispute        OrderStatus = "DISPUTE"
	OrderResolvedBuyer  OrderStatus = "RESOLVED_BUYER"
	OrderResolvedSeller OrderStatus = "RESOLVED_SELLER"
)

// Order is one taker engagement against an ad. CryptoAmount is held in
// the seller's locked balance from creation until release or refund.
type Order struct {
	ID            string          `json:"id"`
	AdID          string          `json:"ad_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	AssetID       string          `json:"asset_id"`
	FiatAssetID   string          `json:"fiat_asset_id"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	CryptoAmount  decimal.Decimal `json:"crypto_amount"`
	Price         decimal.Decimal `json:"price"`
	Fee           decimal.Decimal `json:"fee"`
	Status        OrderStatus     `json:"status"`
	DisputeReason string          `json:"dispute_reason,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AdFilter narrows ad listings. Empty fields match everything.
type AdFilter struct {
	AssetID string
	Side    AdSide
	Status  AdStatus
	Limit   int
}
