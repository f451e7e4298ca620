package domain

import "github.com/shopspring/decimal"

type AssetKind string

const (
	AssetFiat   AssetKind = "FIAT"
	AssetCrypto AssetKind = "CRYPTO"
)

// Asset describes a supported currency and the number of decimal places
// its amounts may carry.
type Asset struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Kind  AssetKind `json:"kind"`
	Scale int32     `json:"scale"`
}

var assets = map[string]Asset{
	"NGN":  {ID: "NGN", Name: "Nigerian Naira", Kind: AssetFiat, Scale: 2},
	"USD":  {ID: "USD", Name: "US Dollar", Kind: AssetFiat, Scale: 2},
	"USDT": {ID: "USDT", Name: "Tether", Kind: AssetCrypto, Scale: 6},
	"USDC": {ID: "USDC", Name: "USD Coin", Kind: AssetCrypto, Scale: 6},
	"BTC":  {ID: "BTC", Name: "Bitcoin", Kind: AssetCrypto, Scale: 8},
	"ETH":  {ID: "ETH", Name: "Ethereum", Kind: AssetCrypto, Scale: 8},
	"SOL":  {ID: "SOL", Name: "Solana", Kind: AssetCrypto, Scale: 8},
}

// LookupAsset returns the asset registered under id.
func LookupAsset(id string) (Asset, bool) {
	a, ok := assets[id]
	return a, ok
}

// Fits reports whether amount carries no more decimal places than the asset allows.
func (a Asset) Fits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(a.Scale))
}
