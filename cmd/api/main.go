package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/escrow-ledger/internal/api"
	"github.com/example/escrow-ledger/internal/app"
	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/config"
	"github.com/example/escrow-ledger/internal/pricefeed"
	"github.com/example/escrow-ledger/internal/security"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	validator := &auth.JWTValidator{Keys: auth.NewKeySet(), Issuer: cfg.JWTIssuer, Leeway: 30 * time.Second}
	if cfg.JWTPublicKeyFile != "" {
		keys, err := auth.LoadPEMFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return err
		}
		validator.Keys = keys
	} else {
		logger.Warn("no JWT public key configured, every /v1 request will be rejected")
	}

	allowlist, err := security.ParseAllowlist(cfg.IPAllowlist)
	if err != nil {
		return err
	}

	var limiter *security.RedisTokenBucket
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = &security.RedisTokenBucket{
			Redis:      rdb,
			Prefix:     "escrow_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillPerSec,
		}
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		JWTValidator: validator,
		Ledger:       a.Engine,
		P2P:          a.P2P,
		Trade:        a.Trade,
		Auditor:      a.Auditor,
		RateLimiter:  limiter,
		IPAllowlist:  allowlist,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	// Market orders price against this process's own rate book.
	go func() {
		err := a.PriceFeed().Run(ctx, func(_ context.Context, t pricefeed.Tick) error {
			return a.Rates.Apply(t)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("price_feed_stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	tlsFiles := security.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, CAFile: cfg.TLSCA}
	if tlsFiles.Enabled() {
		srv.TLSConfig, err = security.LoadServerTLSConfig(tlsFiles)
		if err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("escrow api listening", "addr", cfg.APIAddr, "tls", srv.TLSConfig != nil, "mtls", cfg.TLSCA != "")
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
