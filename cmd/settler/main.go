package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/escrow-ledger/internal/app"
	"github.com/example/escrow-ledger/internal/config"
	"github.com/example/escrow-ledger/internal/p2p"
	"github.com/example/escrow-ledger/internal/pricefeed"
)

// Health service names reported by the settler.
const (
	sweeperService    = "escrow.P2PSweeper"
	settlementService = "escrow.LimitSettlement"
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
		logger.Error("settler exited", "error", err)
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

	lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	for _, name := range []string{"", sweeperService, settlementService} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}

	var wg sync.WaitGroup
	worker := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker_stopped", "worker", name, "error", err)
				hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
			}
		}()
	}

	sweeper := p2p.NewSweeper(a.P2P, cfg.P2PSweepInterval, logger)
	worker(sweeperService, sweeper.Run)

	feed := a.PriceFeed()
	worker(settlementService, func(ctx context.Context) error {
		return feed.Run(ctx, func(ctx context.Context, t pricefeed.Tick) error {
			filled, err := a.Trade.OnTick(ctx, t)
			if filled > 0 {
				logger.Info("limit_orders_settled", "asset", t.Asset, "filled", filled)
			}
			return err
		})
	})

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	logger.Info("settler started", "health_addr", lis.Addr().String(), "sweep_interval", cfg.P2PSweepInterval.String())
	err = srv.Serve(lis)
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
