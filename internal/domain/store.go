package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateReference = errors.New("duplicate reference")
)

// WalletRepository persists wallets. Every method runs inside the
// transaction that produced the repository.
type WalletRepository interface {
	Get(ctx context.Context, id string) (*Wallet, error)
	Find(ctx context.Context, userID, assetID string) (*Wallet, error)
	// Create inserts a zero-balance wallet, or returns the existing one.
	Create(ctx context.Context, userID, assetID string) (*Wallet, error)
	// Lock row-locks the wallets in ascending id order and returns them in that order.
	Lock(ctx context.Context, ids []string) ([]*Wallet, error)
	UpdateBalances(ctx context.Context, w *Wallet) error
	ListByUser(ctx context.Context, userID string) ([]*Wallet, error)
}

// EntryRepository is the append-only journal table plus its reference index.
type EntryRepository interface {
	// ReserveReference claims referenceID for a new batch. It returns
	// ErrDuplicateReference when the id was already used.
	ReserveReference(ctx context.Context, referenceID string, entryType EntryType) error
	Insert(ctx context.Context, entries []*Entry) error
	ListByWallet(ctx context.Context, walletID string, since time.Time) ([]*Entry, error)
	ListByReference(ctx context.Context, referenceID string) ([]*Entry, error)
}

type AdRepository interface {
	Create(ctx context.Context, ad *Ad) error
	Get(ctx context.Context, id string) (*Ad, error)
	GetForUpdate(ctx context.Context, id string) (*Ad, error)
	Update(ctx context.Context, ad *Ad) error
	List(ctx context.Context, filter AdFilter) ([]*Ad, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	// ListExpired returns orders in status whose ExpiresAt is before the given time.
	ListExpired(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]*Order, error)
}

type LimitOrderRepository interface {
	Create(ctx context.Context, o *LimitOrder) error
	Get(ctx context.Context, id string) (*LimitOrder, error)
	GetForUpdate(ctx context.Context, id string) (*LimitOrder, error)
	Update(ctx context.Context, o *LimitOrder) error
	// ListOpen returns open orders touching asset as base or quote.
	ListOpen(ctx context.Context, asset string) ([]*LimitOrder, error)
}

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Wallets() WalletRepository
	Entries() EntryRepository
	Ads() AdRepository
	Orders() OrderRepository
	LimitOrders() LimitOrderRepository
}

// Store runs units of work. fn's writes commit together when it returns
// nil and roll back entirely otherwise, including on timeout.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
