// Package app assembles the ledger, P2P and trade services from
// configuration for the api and settler processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/escrow-ledger/internal/config"
	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/p2p"
	"github.com/example/escrow-ledger/internal/pricefeed"
	"github.com/example/escrow-ledger/internal/storage/postgres"
	"github.com/example/escrow-ledger/internal/storage/sqlite"
	"github.com/example/escrow-ledger/internal/trade"
	"github.com/example/escrow-ledger/pkg/audit"
)

// staticFeedInterval re-emits the reference prices often enough to stay
// inside the default PRICE_MAX_AGE.
const staticFeedInterval = 30 * time.Second

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   domain.Store
	Auditor *audit.ChainLogger
	Engine  *ledger.Engine
	P2P     *p2p.Service
	Trade   *trade.Service
	Rates   *trade.RateBook

	closers []func() error
}

func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if !cfg.IsProduction() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// New opens the store, the audit chain and the event publisher and builds
// the services on top of them. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openAudit(); err != nil {
		_ = a.Close()
		return nil, err
	}
	publisher := a.openPublisher()

	a.Engine = ledger.NewEngine(a.Store, ledger.Options{
		Logger: logger,
		Notifier: &events.Notifier{
			Publisher: publisher,
			Auditor:   a.Auditor,
			Logger:    logger,
			Timeout:   5 * time.Second,
		},
		WithdrawalFees: cfg.WithdrawalFees,
	})
	a.P2P = p2p.NewService(a.Engine, p2p.Options{
		PaymentWindow: cfg.P2PPaymentWindow,
		FeeRate:       cfg.P2PFeeRate,
		Logger:        logger,
	})

	a.Rates = trade.NewRateBook(cfg.PriceMaxAge, nil)
	a.Trade = trade.NewService(a.Engine, a.Rates, trade.Options{
		Fees:   trade.FeeSchedule{Retail: cfg.TradingFeeRate, Corporate: cfg.TradingCorporateFeeRate},
		Logger: logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.UsePostgres() {
		store, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{
			TxTimeout:  cfg.TxTimeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     a.Logger,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.Logger.Info("store_opened", "driver", "postgres")
		return nil
	}

	store, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return err
	}
	store.SetTxTimeout(cfg.TxTimeout)
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Logger.Info("store_opened", "driver", "sqlite", "path", cfg.SQLitePath)
	return nil
}

func (a *App) openAudit() error {
	if a.Config.AuditWALDir == "" {
		a.Auditor = audit.NewChainLogger()
		return nil
	}
	chain, sink, err := audit.OpenPersistentChain(a.Config.AuditWALDir)
	if err != nil {
		return fmt.Errorf("open audit wal: %w", err)
	}
	a.Auditor = chain
	a.closers = append(a.closers, sink.Close)
	a.Logger.Info("audit_chain_restored", "dir", a.Config.AuditWALDir, "head", chain.Head())
	return nil
}

func (a *App) openPublisher() events.Publisher {
	if len(a.Config.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	kp := events.NewKafkaPublisher(a.Config.KafkaBrokers, a.Config.KafkaTopic)
	a.closers = append(a.closers, kp.Close)
	a.Logger.Info("event_publisher", "brokers", a.Config.KafkaBrokers, "topic", a.Config.KafkaTopic)
	return kp
}

// PriceFeed returns the websocket feed when PRICE_FEED_URL is set and the
// reference prices otherwise.
func (a *App) PriceFeed() pricefeed.Feed {
	if a.Config.PriceFeedURL != "" {
		return pricefeed.NewWebSocket(a.Config.PriceFeedURL, a.Logger)
	}
	return &pricefeed.Static{Ticks: pricefeed.DefaultTicks(), Interval: staticFeedInterval}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
