package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
)

// Options configures an Engine. Zero values are usable.
type Options struct {
	Logger   *slog.Logger
	Notifier *events.Notifier
	// WithdrawalFees is the fixed fee charged per withdrawal, by asset.
	WithdrawalFees map[string]decimal.Decimal
	Now            func() time.Time
}

// Engine applies balanced batches of postings to wallets and the journal.
// It is the only writer of balances.
type Engine struct {
	store          domain.Store
	wallets        *WalletStore
	journal        *Journal
	notifier       *events.Notifier
	logger         *slog.Logger
	withdrawalFees map[string]decimal.Decimal
	now            func() time.Time
}

func NewEngine(store domain.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	journal := NewJournal()
	journal.now = opts.Now

	return &Engine{
		store:          store,
		wallets:        NewWalletStore(opts.Logger),
		journal:        journal,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		withdrawalFees: opts.WithdrawalFees,
		now:            opts.Now,
	}
}

func (e *Engine) Store() domain.Store { return e.store }
func (e *Engine) Wallets() *WalletStore { return e.wallets }
func (e *Engine) Journal() *Journal { return e.journal }
func (e *Engine) Notifier() *events.Notifier { return e.notifier }

// NewReference returns a time-sortable reference id such as txn_01J...
func NewReference(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

// Posting is one signed movement on a (user, asset) bucket.
type Posting struct {
	UserID      string
	AssetID     string
	Bucket      domain.Bucket
	Amount      decimal.Decimal
	Description string
}

// Batch is a set of postings applied under one reference id.
type Batch struct {
	ReferenceID string
	Type        domain.EntryType
	Postings    []Posting
}

type walletKey struct {
	userID  string
	assetID string
}

// Post applies b inside tx. It claims the reference id, resolves every
// wallet (creating credit-only ones), row-locks them in ascending id
// order, applies the postings in sequence and appends the journal batch.
// A reused reference id fails with KindDuplicate and changes nothing.
func (e *Engine) Post(ctx context.Context, tx domain.Tx, b Batch) ([]*domain.Entry, error) {
	const op = "post"

	if err := validateBatch(b); err != nil {
		return nil, err
	}

	if err := tx.Entries().ReserveReference(ctx, b.ReferenceID, b.Type); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			return nil, Wrap(KindDuplicate, op, err)
		}
		return nil, fmt.Errorf("reserve reference %s: %w", b.ReferenceID, err)
	}

	var order []walletKey
	debited := map[walletKey]bool{}
	for _, p := range b.Postings {
		k := walletKey{p.UserID, p.AssetID}
		if _, seen := debited[k]; !seen {
			order = append(order, k)
			debited[k] = false
		}
		if p.Amount.IsNegative() {
			debited[k] = true
		}
	}

	resolved := make(map[walletKey]string, len(order))
	ids := make([]string, 0, len(order))
	for _, k := range order {
		var (
			w   *domain.Wallet
			err error
		)
		if debited[k] && k.userID != domain.ExternalAccount {
			w, err = e.wallets.Find(ctx, tx, k.userID, k.assetID)
		} else {
			w, err = e.wallets.GetOrCreate(ctx, tx, k.userID, k.assetID)
		}
		if err != nil {
			return nil, err
		}
		resolved[k] = w.ID
		ids = append(ids, w.ID)
	}
	sort.Strings(ids)

	locked, err := tx.Wallets().Lock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	byID := make(map[string]*domain.Wallet, len(locked))
	for _, w := range locked {
		byID[w.ID] = w
	}

	entries := make([]*domain.Entry, 0, len(b.Postings))
	for _, p := range b.Postings {
		w, ok := byID[resolved[walletKey{p.UserID, p.AssetID}]]
		if !ok {
			return nil, Errorf(KindWalletNotFound, op, "%s wallet of %s vanished under lock", p.AssetID, p.UserID)
		}

		availableDelta, lockedDelta := decimal.Zero, decimal.Zero
		if p.Bucket == domain.BucketLocked {
			lockedDelta = p.Amount
		} else {
			availableDelta = p.Amount
		}
		if _, err := e.wallets.apply(ctx, tx, w, availableDelta, lockedDelta); err != nil {
			return nil, err
		}

		entries = append(entries, &domain.Entry{
			ReferenceID:  b.ReferenceID,
			WalletID:     w.ID,
			AssetID:      p.AssetID,
			Bucket:       bucketOrDefault(p.Bucket),
			Amount:       p.Amount,
			Type:         b.Type,
			Description:  p.Description,
			BalanceAfter: w.Balance(p.Bucket),
		})
	}

	if err := e.journal.Append(ctx, tx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func bucketOrDefault(b domain.Bucket) domain.Bucket {
	if b == "" {
		return domain.BucketAvailable
	}
	return b
}

func validateBatch(b Batch) error {
	const op = "post"
	if b.ReferenceID == "" {
		return Errorf(KindValidation, op, "reference id is required")
	}
	if !b.Type.Valid() {
		return Errorf(KindValidation, op, "unknown entry type %q", b.Type)
	}
	if len(b.Postings) == 0 {
		return Errorf(KindValidation, op, "no postings")
	}

	provisional := make([]*domain.Entry, 0, len(b.Postings))
	for _, p := range b.Postings {
		if p.UserID == "" {
			return Errorf(KindValidation, op, "posting without user")
		}
		if p.Bucket != "" && p.Bucket != domain.BucketAvailable && p.Bucket != domain.BucketLocked {
			return Errorf(KindValidation, op, "unknown bucket %q", p.Bucket)
		}
		if err := validateAmount(op, p.AssetID, p.Amount.Abs()); err != nil {
			return err
		}
		provisional = append(provisional, &domain.Entry{ReferenceID: b.ReferenceID, AssetID: p.AssetID, Amount: p.Amount})
	}
	return CheckBalanced(provisional)
}

// validateAmount checks that amount is positive and representable in the asset.
func validateAmount(op, assetID string, amount decimal.Decimal) error {
	asset, ok := domain.LookupAsset(assetID)
	if !ok {
		return Errorf(KindValidation, op, "unsupported asset %q", assetID)
	}
	if !amount.IsPositive() {
		return Errorf(KindValidation, op, "amount must be positive, got %s", amount)
	}
	if !asset.Fits(amount) {
		return Errorf(KindValidation, op, "%s supports %d decimal places, got %s", asset.ID, asset.Scale, amount)
	}
	return nil
}

// TransferRequest moves Amount of AssetID between two users. An empty
// FromUserID mints (external deposit); an empty ToUserID burns
// (external withdrawal).
type TransferRequest struct {
	FromUserID  string
	ToUserID    string
	AssetID     string
	Amount      decimal.Decimal
	Type        domain.EntryType
	ReferenceID string
	Description string
}

type TransferResult struct {
	ReferenceID string          `json:"reference_id"`
	Entries     []*domain.Entry `json:"entries"`
	// Duplicate is set when the same movement had already been applied
	// under the reference id; Entries then holds the original batch and
	// nothing was changed.
	Duplicate bool `json:"duplicate"`
}

func (e *Engine) TransferFunds(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	const op = "transfer funds"

	if req.FromUserID == "" && req.ToUserID == "" {
		return nil, Errorf(KindValidation, op, "from or to user is required")
	}
	if req.FromUserID == req.ToUserID {
		return nil, Errorf(KindValidation, op, "cannot transfer to the same user")
	}
	if req.Type == "" {
		req.Type = domain.EntryTransfer
	}
	if err := validateAmount(op, req.AssetID, req.Amount); err != nil {
		return nil, err
	}
	if err := checkClientReference(op, req.ReferenceID); err != nil {
		return nil, err
	}

	from, fromDesc := req.FromUserID, "Debit: "+req.Description
	if from == "" {
		from, fromDesc = domain.ExternalAccount, "Mint: "+req.Description
	}
	to, toDesc := req.ToUserID, "Credit: "+req.Description
	if to == "" {
		to, toDesc = domain.ExternalAccount, "Burn: "+req.Description
	}

	batch := Batch{
		ReferenceID: req.ReferenceID,
		Type:        req.Type,
		Postings: []Posting{
			{UserID: from, AssetID: req.AssetID, Amount: req.Amount.Neg(), Description: fromDesc},
			{UserID: to, AssetID: req.AssetID, Amount: req.Amount, Description: toDesc},
		},
	}

	res, err := e.postInTx(ctx, batch)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		e.notifier.Settled(ctx, events.Event{
			Type:        transferEventType(req.Type),
			ReferenceID: req.ReferenceID,
			Subject:     req.AssetID,
			Attributes: map[string]string{
				"from":   req.FromUserID,
				"to":     req.ToUserID,
				"amount": req.Amount.String(),
			},
		})
	}
	return res, nil
}

// postInTx runs one batch in its own transaction. A retry of an applied
// batch folds into a no-op result carrying the original entries; any other
// reuse of the reference stays a KindDuplicate error.
func (e *Engine) postInTx(ctx context.Context, b Batch) (*TransferResult, error) {
	var entries []*domain.Entry
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entries, err = e.Post(ctx, tx, b)
		return err
	})
	if errors.Is(err, ErrDuplicate) {
		original, rerr := e.Replay(ctx, b, OwnPostings)
		if rerr != nil {
			return nil, rerr
		}
		return &TransferResult{ReferenceID: b.ReferenceID, Entries: original, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TransferResult{ReferenceID: b.ReferenceID, Entries: entries}, nil
}

func transferEventType(t domain.EntryType) string {
	switch t {
	case domain.EntryDeposit:
		return events.DepositCompleted
	case domain.EntryWithdrawal:
		return events.WithdrawalCompleted
	}
	return events.TransferCompleted
}

// EntriesForReference returns every entry written under ref.
func (e *Engine) EntriesForReference(ctx context.Context, ref string) ([]*domain.Entry, error) {
	var out []*domain.Entry
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Entries().ListByReference(ctx, ref)
		return err
	})
	return out, err
}

// EntriesFor returns the entries of userID's assetID wallet since the given time.
func (e *Engine) EntriesFor(ctx context.Context, userID, assetID string, since time.Time) ([]*domain.Entry, error) {
	var out []*domain.Entry
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		w, err := e.wallets.Find(ctx, tx, userID, assetID)
		if err != nil {
			return err
		}
		out, err = e.journal.EntriesFor(ctx, tx, w.ID, since)
		return err
	})
	return out, err
}

// Balances lists every wallet owned by userID.
func (e *Engine) Balances(ctx context.Context, userID string) ([]*domain.Wallet, error) {
	var out []*domain.Wallet
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Wallets().ListByUser(ctx, userID)
		return err
	})
	return out, err
}
