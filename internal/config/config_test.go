package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "DATABASE_URL", "JWT_PUBLIC_KEY_FILE", "API_TLS_CERT", "API_TLS_KEY",
		"WITHDRAWAL_FEES", "P2P_FEE_RATE", "TRADING_FEE_RATE", "KAFKA_BROKERS", "LEDGER_TX_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("WITHDRAWAL_FEES", "NGN:50")
	t.Setenv("P2P_FEE_RATE", "0")
	t.Setenv("TRADING_FEE_RATE", "0.005")
	t.Setenv("LEDGER_TX_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.UsePostgres())
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 15*time.Minute, cfg.P2PPaymentWindow)
	assert.True(t, decimal.RequireFromString("0.005").Equal(cfg.TradingFeeRate))
	assert.True(t, decimal.RequireFromString("0.002").Equal(cfg.TradingCorporateFeeRate))
	require.Contains(t, cfg.WithdrawalFees, "NGN")
	assert.True(t, decimal.NewFromInt(50).Equal(cfg.WithdrawalFees["NGN"]))
}

func TestParseLists(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_TX_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("WITHDRAWAL_FEES", "NGN:100,USDT:1.5")
	t.Setenv("P2P_FEE_RATE", "0.001")
	t.Setenv("TRADING_FEE_RATE", "0.004")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, decimal.NewFromInt(100).Equal(cfg.WithdrawalFees["NGN"]))
	assert.True(t, decimal.RequireFromString("1.5").Equal(cfg.WithdrawalFees["USDT"]))
	assert.True(t, decimal.RequireFromString("0.001").Equal(cfg.P2PFeeRate))
	assert.Equal(t, 2*time.Second, cfg.TxTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"fee rate of one", map[string]string{"P2P_FEE_RATE": "1"}},
		{"negative trading fee", map[string]string{"TRADING_FEE_RATE": "-0.1"}},
		{"not a decimal", map[string]string{"TRADING_FEE_RATE": "half"}},
		{"negative withdrawal fee", map[string]string{"WITHDRAWAL_FEES": "NGN:-5"}},
		{"withdrawal fee for unknown asset", map[string]string{"WITHDRAWAL_FEES": "DOGE:1"}},
		{"withdrawal fee finer than asset", map[string]string{"WITHDRAWAL_FEES": "NGN:50.001"}},
		{"cert without key", map[string]string{"API_TLS_CERT": "/tls/cert.pem"}},
		{"zero timeout", map[string]string{"LEDGER_TX_TIMEOUT": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", "development")
			t.Setenv("WITHDRAWAL_FEES", "NGN:50")
			t.Setenv("P2P_FEE_RATE", "0")
			t.Setenv("TRADING_FEE_RATE", "0.005")
			t.Setenv("LEDGER_TX_TIMEOUT", "5s")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequirements(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("WITHDRAWAL_FEES", "NGN:50")
	t.Setenv("P2P_FEE_RATE", "0")
	t.Setenv("TRADING_FEE_RATE", "0.005")
	t.Setenv("LEDGER_TX_TIMEOUT", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_TLS_CERT, API_TLS_KEY, DATABASE_URL, JWT_PUBLIC_KEY_FILE")

	t.Setenv("DATABASE_URL", "postgres://ledger@db:5432/ledger")
	t.Setenv("JWT_PUBLIC_KEY_FILE", "/keys/jwt.pub")
	t.Setenv("API_TLS_CERT", "/tls/cert.pem")
	t.Setenv("API_TLS_KEY", "/tls/key.pem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.UsePostgres())
}
