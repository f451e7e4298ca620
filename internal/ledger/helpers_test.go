package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/storage/sqlite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewEngine(store, opts), store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func wallet(t *testing.T, e *Engine, userID, assetID string) *domain.Wallet {
	t.Helper()
	var w *domain.Wallet
	err := e.Store().RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		w, err = tx.Wallets().Find(ctx, userID, assetID)
		return err
	})
	require.NoError(t, err)
	return w
}

func fund(t *testing.T, e *Engine, userID, assetID, amount string) {
	t.Helper()
	_, err := e.Deposit(context.Background(), userID, assetID, dec(amount), NewReference("dep"), "")
	require.NoError(t, err)
}

func sumAmounts(entries []*domain.Entry) map[string]decimal.Decimal {
	sums := map[string]decimal.Decimal{}
	for _, e := range entries {
		sums[e.AssetID] = sums[e.AssetID].Add(e.Amount)
	}
	return sums
}
