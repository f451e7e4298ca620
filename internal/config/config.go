package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`

	APIAddr      string   `env:"API_ADDR"           envDefault:":8080"`
	TLSCert      string   `env:"API_TLS_CERT"`
	TLSKey       string   `env:"API_TLS_KEY"`
	TLSCA        string   `env:"API_TLS_CA"`
	IPAllowlist  []string `env:"API_IP_ALLOWLIST"   envSeparator:","`
	CORSOrigins  []string `env:"API_CORS_ORIGINS"   envSeparator:","`
	MaxBodyBytes int64    `env:"API_MAX_BODY_BYTES" envDefault:"1048576"`

	RateLimitCapacity     int     `env:"API_RATE_LIMIT_CAPACITY"       envDefault:"60"`
	RateLimitRefillPerSec float64 `env:"API_RATE_LIMIT_REFILL_PER_SEC" envDefault:"1"`
	RedisAddr             string  `env:"REDIS_ADDR"`

	JWTPublicKeyFile string `env:"JWT_PUBLIC_KEY_FILE"`
	JWTIssuer        string `env:"JWT_ISSUER"`

	DatabaseURL string        `env:"DATABASE_URL"`
	SQLitePath  string        `env:"SQLITE_PATH"        envDefault:"escrow-ledger.db"`
	TxTimeout   time.Duration `env:"LEDGER_TX_TIMEOUT"  envDefault:"5s"`
	MaxRetries  int           `env:"LEDGER_MAX_RETRIES" envDefault:"3"`

	AuditWALDir  string   `env:"AUDIT_WAL_DIR"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"ledger.settlements"`

	PriceFeedURL string        `env:"PRICE_FEED_URL"`
	PriceMaxAge  time.Duration `env:"PRICE_MAX_AGE"  envDefault:"2m"`

	P2PPaymentWindow time.Duration   `env:"P2P_PAYMENT_WINDOW" envDefault:"15m"`
	P2PSweepInterval time.Duration   `env:"P2P_SWEEP_INTERVAL" envDefault:"30s"`
	P2PFeeRate       decimal.Decimal `env:"P2P_FEE_RATE"       envDefault:"0"`

	TradingFeeRate          decimal.Decimal `env:"TRADING_FEE_RATE"           envDefault:"0.005"`
	TradingCorporateFeeRate decimal.Decimal `env:"TRADING_CORPORATE_FEE_RATE" envDefault:"0.002"`

	// WithdrawalFees is a fixed fee per asset, written as ASSET:AMOUNT pairs.
	WithdrawalFees map[string]decimal.Decimal `env:"WITHDRAWAL_FEES" envDefault:"NGN:50" envSeparator:"," envKeyValSeparator:":"`

	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR" envDefault:":9090"`
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (any, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q", v)
		}
		return d, nil
	},
}

// Load reads the configuration from the process environment and validates it.
func Load() (*Config, error) {
	return Parse(nil)
}

// Parse reads the configuration from environ, or from the process
// environment when environ is nil, and validates it.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ, FuncMap: parsers}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// UsePostgres reports whether the ledger runs on PostgreSQL rather than
// the embedded SQLite store.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string
	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.IsProduction() {
		for name, v := range map[string]string{
			"DATABASE_URL":        c.DatabaseURL,
			"JWT_PUBLIC_KEY_FILE": c.JWTPublicKeyFile,
			"API_TLS_CERT":        c.TLSCert,
			"API_TLS_KEY":         c.TLSKey,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("API_TLS_CERT and API_TLS_KEY must be set together")
	}
	if c.TxTimeout <= 0 {
		return errors.New("LEDGER_TX_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("LEDGER_MAX_RETRIES must not be negative")
	}
	if c.RateLimitCapacity <= 0 || c.RateLimitRefillPerSec <= 0 {
		return errors.New("API rate limit capacity and refill rate must be positive")
	}
	if c.P2PPaymentWindow <= 0 {
		return errors.New("P2P_PAYMENT_WINDOW must be positive")
	}

	one := decimal.NewFromInt(1)
	for name, r := range map[string]decimal.Decimal{
		"P2P_FEE_RATE":               c.P2PFeeRate,
		"TRADING_FEE_RATE":           c.TradingFeeRate,
		"TRADING_CORPORATE_FEE_RATE": c.TradingCorporateFeeRate,
	} {
		if r.IsNegative() || r.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s must be in [0, 1), got %s", name, r)
		}
	}
	for asset, fee := range c.WithdrawalFees {
		if fee.IsNegative() {
			return fmt.Errorf("WITHDRAWAL_FEES: negative fee for %s", asset)
		}
		a, ok := domain.LookupAsset(asset)
		if !ok {
			return fmt.Errorf("WITHDRAWAL_FEES: unsupported asset %q", asset)
		}
		if !a.Fits(fee) {
			return fmt.Errorf("WITHDRAWAL_FEES: %s fee %s exceeds %d decimal places", asset, fee, a.Scale)
		}
	}
	return nil
}
