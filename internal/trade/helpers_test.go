package trade

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/pricefeed"
	"github.com/example/escrow-ledger/internal/storage/sqlite"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range evs {
		p.types = append(p.types, ev.Type)
	}
	return nil
}

type fixture struct {
	engine  *ledger.Engine
	service *Service
	rates   *RateBook
	clock   *clock
	events  *recordingPublisher
}

func newFixture(t *testing.T, maxAge time.Duration) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	engine := ledger.NewEngine(store, ledger.Options{
		Logger:   logger,
		Notifier: &events.Notifier{Publisher: pub, Logger: logger},
		Now:      clk.Now,
	})
	rates := NewRateBook(maxAge, clk.Now)
	require.NoError(t, rates.Seed(pricefeed.DefaultTicks()))

	svc := NewService(engine, rates, Options{Fees: DefaultFeeSchedule(), Logger: logger, Now: clk.Now})
	return &fixture{engine: engine, service: svc, rates: rates, clock: clk, events: pub}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) fund(t *testing.T, user, asset, amount string) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), user, asset, d(amount), ledger.NewReference("dep"), "")
	require.NoError(t, err)
}

// balance returns the available and locked balances, zero when the wallet does not exist.
func (f *fixture) balance(t *testing.T, user, asset string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	wallets, err := f.engine.Balances(context.Background(), user)
	require.NoError(t, err)
	for _, w := range wallets {
		if w.AssetID == asset {
			return w.Available, w.Locked
		}
	}
	return decimal.Zero, decimal.Zero
}

func (f *fixture) assertBalance(t *testing.T, user, asset, available, locked string) {
	t.Helper()
	a, l := f.balance(t, user, asset)
	assert.Truef(t, d(available).Equal(a), "%s %s available: want %s, got %s", user, asset, available, a)
	assert.Truef(t, d(locked).Equal(l), "%s %s locked: want %s, got %s", user, asset, locked, l)
}

func (f *fixture) assertBalanced(t *testing.T, ref string) {
	t.Helper()
	res, err := f.engine.VerifyReference(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, res.IsValid, res.Message)
}

func (f *fixture) tick(t *testing.T, asset, usd string) int {
	t.Helper()
	n, err := f.service.OnTick(context.Background(), pricefeed.Tick{Asset: asset, PriceUSD: d(usd), At: f.clock.Now()})
	require.NoError(t, err)
	return n
}
