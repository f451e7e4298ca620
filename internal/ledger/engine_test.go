package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/pkg/audit"
)

func TestTransferFundsMovesBalance(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	fund(t, e, "alice", "NGN", "500")

	res, err := e.TransferFunds(ctx, TransferRequest{
		FromUserID:  "alice",
		ToUserID:    "bob",
		AssetID:     "NGN",
		Amount:      dec("120.50"),
		ReferenceID: "txn-1",
		Description: "rent",
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.False(t, res.Duplicate)

	requireDecimal(t, "379.50", wallet(t, e, "alice", "NGN").Available)
	requireDecimal(t, "120.50", wallet(t, e, "bob", "NGN").Available)

	assert.Equal(t, "Debit: rent", res.Entries[0].Description)
	assert.Equal(t, "Credit: rent", res.Entries[1].Description)
	requireDecimal(t, "379.50", res.Entries[0].BalanceAfter)
	requireDecimal(t, "120.50", res.Entries[1].BalanceAfter)

	stored, err := e.EntriesForReference(ctx, "txn-1")
	require.NoError(t, err)
	for asset, sum := range sumAmounts(stored) {
		assert.Truef(t, sum.IsZero(), "%s nets %s", asset, sum)
	}
}

func TestTransferFundsInsufficientFundsChangesNothing(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	fund(t, e, "alice", "USDT", "5")

	_, err := e.TransferFunds(ctx, TransferRequest{
		FromUserID: "alice", ToUserID: "bob", AssetID: "USDT", Amount: dec("5.000001"), ReferenceID: "txn-over",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	requireDecimal(t, "5", wallet(t, e, "alice", "USDT").Available)

	entries, err := e.EntriesForReference(ctx, "txn-over")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The reference was rolled back with the rest and can be reused.
	_, err = e.TransferFunds(ctx, TransferRequest{
		FromUserID: "alice", ToUserID: "bob", AssetID: "USDT", Amount: dec("5"), ReferenceID: "txn-over",
	})
	require.NoError(t, err)
}

func TestTransferFundsIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, Options{Notifier: &events.Notifier{Publisher: pub}})
	ctx := context.Background()
	fund(t, e, "alice", "NGN", "100")

	req := TransferRequest{FromUserID: "alice", ToUserID: "bob", AssetID: "NGN", Amount: dec("40"), ReferenceID: "txn-idem"}
	first, err := e.TransferFunds(ctx, req)
	require.NoError(t, err)
	second, err := e.TransferFunds(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	require.Len(t, second.Entries, len(first.Entries))
	assert.Equal(t, first.Entries[0].ID, second.Entries[0].ID)

	requireDecimal(t, "60", wallet(t, e, "alice", "NGN").Available)
	requireDecimal(t, "40", wallet(t, e, "bob", "NGN").Available)
	assert.Equal(t, []string{events.DepositCompleted, events.TransferCompleted}, pub.types())
}

func TestTransferFundsMintAndBurn(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	mint, err := e.TransferFunds(ctx, TransferRequest{
		ToUserID: "alice", AssetID: "NGN", Amount: dec("1000"), Type: domain.EntryDeposit, ReferenceID: "mint-1", Description: "card",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mint.Entries[0].Description, "Mint: "))

	burn, err := e.TransferFunds(ctx, TransferRequest{
		FromUserID: "alice", AssetID: "NGN", Amount: dec("300"), Type: domain.EntryWithdrawal, ReferenceID: "burn-1", Description: "bank",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(burn.Entries[1].Description, "Burn: "))

	requireDecimal(t, "700", wallet(t, e, "alice", "NGN").Available)
	requireDecimal(t, "-700", wallet(t, e, domain.ExternalAccount, "NGN").Available)
}

func TestTransferFundsFromUnfundedWallet(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	_, err := e.TransferFunds(context.Background(), TransferRequest{
		FromUserID: "ghost", ToUserID: "bob", AssetID: "BTC", Amount: dec("0.1"), ReferenceID: "txn-ghost",
	})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestTransferFundsValidation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  TransferRequest
	}{
		{"no parties", TransferRequest{AssetID: "NGN", Amount: dec("1"), ReferenceID: "r"}},
		{"same party", TransferRequest{FromUserID: "a", ToUserID: "a", AssetID: "NGN", Amount: dec("1"), ReferenceID: "r"}},
		{"zero amount", TransferRequest{ToUserID: "a", AssetID: "NGN", Amount: dec("0"), ReferenceID: "r"}},
		{"negative amount", TransferRequest{ToUserID: "a", AssetID: "NGN", Amount: dec("-1"), ReferenceID: "r"}},
		{"too many decimals", TransferRequest{ToUserID: "a", AssetID: "NGN", Amount: dec("1.001"), ReferenceID: "r"}},
		{"unknown asset", TransferRequest{ToUserID: "a", AssetID: "DOGE", Amount: dec("1"), ReferenceID: "r"}},
		{"missing reference", TransferRequest{ToUserID: "a", AssetID: "NGN", Amount: dec("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.TransferFunds(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPostRejectsUnbalancedBatch(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	fund(t, e, "alice", "NGN", "100")

	err := e.Store().RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := e.Post(ctx, tx, Batch{
			ReferenceID: "bad-1",
			Type:        domain.EntryTransfer,
			Postings: []Posting{
				{UserID: "alice", AssetID: "NGN", Amount: dec("-10")},
				{UserID: "bob", AssetID: "NGN", Amount: dec("9")},
			},
		})
		return err
	})
	assert.ErrorIs(t, err, ErrUnbalancedEntry)
	assert.True(t, KindOf(err).Fault())
	requireDecimal(t, "100", wallet(t, e, "alice", "NGN").Available)
}

func TestPostSwapRollsBackWhenCreditLegFails(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	fund(t, e, "alice", "BTC", "0.05")
	fund(t, e, domain.LiquidityAccount, "NGN", "1000")

	// The house holds far less NGN than 0.01 BTC is worth.
	err := e.Store().RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := e.Post(ctx, tx, Batch{
			ReferenceID: "swap-1",
			Type:        domain.EntryTrade,
			Postings: []Posting{
				{UserID: "alice", AssetID: "BTC", Amount: dec("-0.01")},
				{UserID: domain.LiquidityAccount, AssetID: "BTC", Amount: dec("0.01")},
				{UserID: domain.LiquidityAccount, AssetID: "NGN", Amount: dec("-995565.25")},
				{UserID: "alice", AssetID: "NGN", Amount: dec("995565.25")},
			},
		})
		return err
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	requireDecimal(t, "0.05", wallet(t, e, "alice", "BTC").Available)
	requireDecimal(t, "1000", wallet(t, e, domain.LiquidityAccount, "NGN").Available)
	entries, err := e.EntriesForReference(ctx, "swap-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBalancesAndEntriesFor(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	fund(t, e, "alice", "NGN", "10")
	fund(t, e, "alice", "USDT", "2")

	wallets, err := e.Balances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, wallets, 2)

	entries, err := e.EntriesFor(ctx, "alice", "USDT", e.now().AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryDeposit, entries[0].Type)

	_, err = e.EntriesFor(ctx, "alice", "BTC", e.now())
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestTransferFundsAppendsAuditRecord(t *testing.T) {
	chain := audit.NewChainLogger()
	e, _ := newTestEngine(t, Options{Notifier: &events.Notifier{Auditor: chain}})
	fund(t, e, "alice", "NGN", "10")

	assert.NotEqual(t, audit.GenesisHash, chain.Head())
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindInvalidLockState, "unlock", "locked %s", "0")
	wrapped := errors.Join(errors.New("context"), err)

	assert.ErrorIs(t, wrapped, ErrInvalidLockState)
	assert.NotErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.Equal(t, KindInvalidLockState, KindOf(wrapped))
	assert.True(t, KindInvalidLockState.Fault())
	assert.False(t, KindInsufficientFunds.Fault())
	assert.Equal(t, "unlock: locked 0", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("io")))
}

func TestNewReference(t *testing.T) {
	a, b := NewReference("txn"), NewReference("txn")
	assert.True(t, strings.HasPrefix(a, "txn_"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
}
