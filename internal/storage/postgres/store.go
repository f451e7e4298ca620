// Package postgres is the production domain.Store. Every unit of work runs
// in a SERIALIZABLE transaction and is retried on serialization failures
// and deadlocks.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type Options struct {
	TxTimeout  time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

type Store struct {
	pool       *pgxpool.Pool
	txTimeout  time.Duration
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// Connect opens a pool for dsn, pings it and applies migrations.
func Connect(ctx context.Context, dsn string, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool, opts)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		pool:       pool,
		txTimeout:  opts.TxTimeout,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded migration files in name order, once each.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}

		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, version)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, string(body))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	return nil
}

// RunInTx runs fn in a SERIALIZABLE transaction. Serialization failures
// and deadlocks restart fn from scratch up to MaxRetries times. The
// caller's cancellation is detached once the unit of work starts; the
// store timeout still applies and rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	base := context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.runOnce(base, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.Warn("transaction_retry", "attempt", attempt+1, "error", err)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxRetries, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	pgTx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(context.Background())

	if err := fn(txCtx, &tx{q: pgTx, now: s.now}); err != nil {
		return err
	}
	if err := pgTx.Commit(txCtx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type tx struct {
	q   querier
	now func() time.Time
}

func (t *tx) Wallets() domain.WalletRepository { return walletRepo{t} }
func (t *tx) Entries() domain.EntryRepository { return entryRepo{t} }
func (t *tx) Ads() domain.AdRepository { return adRepo{t} }
func (t *tx) Orders() domain.OrderRepository { return orderRepo{t} }
func (t *tx) LimitOrders() domain.LimitOrderRepository { return limitOrderRepo{t} }

// numeric collects NUMERIC columns selected as ::text and converts them
// to decimals after the row is scanned.
type numeric struct {
	dst []*decimal.Decimal
	raw []*string
}

func (n *numeric) scan(d *decimal.Decimal) *string {
	s := new(string)
	n.dst = append(n.dst, d)
	n.raw = append(n.raw, s)
	return s
}

func (n *numeric) decode() error {
	for i, s := range n.raw {
		d, err := decimal.NewFromString(*s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", *s, err)
		}
		*n.dst[i] = d
	}
	return nil
}
