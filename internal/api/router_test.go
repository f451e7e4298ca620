package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/p2p"
	"github.com/example/escrow-ledger/internal/pricefeed"
	"github.com/example/escrow-ledger/internal/security"
	"github.com/example/escrow-ledger/internal/storage/sqlite"
	"github.com/example/escrow-ledger/internal/trade"
	"github.com/example/escrow-ledger/pkg/audit"
)

type recordingAuditor struct {
	mu      sync.Mutex
	chain   *audit.ChainLogger
	entries []*audit.LogEntry
}

func (a *recordingAuditor) Append(payload string) (*audit.LogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.chain.Append(payload)
	if err == nil {
		a.entries = append(a.entries, e)
	}
	return e, err
}

type testServer struct {
	url     string
	key     *rsa.PrivateKey
	engine  *ledger.Engine
	auditor *recordingAuditor
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditor := &recordingAuditor{chain: audit.NewChainLogger()}
	engine := ledger.NewEngine(store, ledger.Options{
		Logger:         logger,
		Notifier:       &events.Notifier{Publisher: events.Nop{}, Auditor: auditor, Logger: logger},
		WithdrawalFees: map[string]decimal.Decimal{"NGN": decimal.NewFromInt(50)},
	})
	rates := trade.NewRateBook(0, nil)
	require.NoError(t, rates.Seed(pricefeed.DefaultTicks()))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := auth.NewKeySet()
	_, err = keys.Add(&key.PublicKey)
	require.NoError(t, err)

	deps := Dependencies{
		Logger:       logger,
		JWTValidator: &auth.JWTValidator{Keys: keys, Issuer: "https://auth.test"},
		Ledger:       engine,
		P2P:          p2p.NewService(engine, p2p.Options{Logger: logger}),
		Trade:        trade.NewService(engine, rates, trade.Options{Fees: trade.DefaultFeeSchedule(), Logger: logger}),
		Auditor:      auditor,
		MaxBodyBytes: 1 << 16,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testServer{url: ts.URL, key: key, engine: engine, auditor: auditor}
}

func (s *testServer) token(t *testing.T, sub string, roles []string, scopes ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.test",
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
		Roles:  roles,
	})
	signed, err := tok.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

func (s *testServer) user(t *testing.T, sub string) string {
	return s.token(t, sub, nil, auth.ScopeWalletsRead, auth.ScopeTransfersWrite, auth.ScopeP2PWrite, auth.ScopeTradeExecute)
}

func (s *testServer) admin(t *testing.T) string {
	return s.token(t, "ops", []string{auth.RoleAdmin})
}

type response struct {
	status int
	body   map[string]any
}

func (r response) str(key string) string {
	v, _ := r.body[key].(string)
	return v
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, body: map[string]any{}}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (s *testServer) deposit(t *testing.T, user, asset, amount string) {
	t.Helper()
	res := s.do(t, http.MethodPost, "/v1/wallets/deposit", s.admin(t), map[string]string{
		"user_id": user, "asset_id": asset, "amount": amount,
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
}

func (s *testServer) balance(t *testing.T, token, asset string) (string, string) {
	t.Helper()
	res := s.do(t, http.MethodGet, "/v1/wallets", token, nil)
	require.Equal(t, http.StatusOK, res.status)
	wallets, _ := res.body["wallets"].([]any)
	for _, raw := range wallets {
		w := raw.(map[string]any)
		if w["asset_id"] == asset {
			return w["available"].(string), w["locked"].(string)
		}
	}
	return "0", "0"
}

func assertAmount(t *testing.T, want, got string) {
	t.Helper()
	g, err := decimal.NewFromString(got)
	require.NoError(t, err, got)
	assert.True(t, decimal.RequireFromString(want).Equal(g), "want %s, got %s", want, got)
}

func TestHealthzAndAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	res := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ok", res.str("status"))

	res = s.do(t, http.MethodGet, "/v1/wallets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "unauthorized", res.str("error"))
	assert.NotEmpty(t, res.str("correlation_id"))

	res = s.do(t, http.MethodGet, "/v1/wallets", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	readOnly := s.token(t, "alice", nil, auth.ScopeWalletsRead)
	res = s.do(t, http.MethodGet, "/v1/wallets", readOnly, nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Empty(t, res.body["wallets"])

	res = s.do(t, http.MethodPost, "/v1/wallets/transfer", readOnly, map[string]string{
		"to_user_id": "bob", "asset_id": "USDT", "amount": "1",
	})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPost, "/v1/wallets/deposit", s.user(t, "alice"), map[string]string{
		"user_id": "alice", "asset_id": "USDT", "amount": "1000",
	})
	assert.Equal(t, http.StatusForbidden, res.status, "deposits are admin only")

	res = s.do(t, http.MethodGet, "/v1/nope", readOnly, nil)
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := s.user(t, "alice"), s.user(t, "bob")
	s.deposit(t, "alice", "USDT", "100")

	body := map[string]string{"to_user_id": "bob", "asset_id": "USDT", "amount": "40", "reference_id": "txn-1"}
	res := s.do(t, http.MethodPost, "/v1/wallets/transfer", alice, body)
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assert.Equal(t, "txn-1", res.str("reference_id"))
	assert.Len(t, res.body["entries"], 2)

	res = s.do(t, http.MethodPost, "/v1/wallets/transfer", alice, body)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, true, res.body["duplicate"])

	available, _ := s.balance(t, alice, "USDT")
	assertAmount(t, "60", available)
	available, _ = s.balance(t, bob, "USDT")
	assertAmount(t, "40", available)

	res = s.do(t, http.MethodGet, "/v1/wallets/USDT/entries", bob, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.body["entries"], 1)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"insufficient funds", map[string]string{"to_user_id": "bob", "asset_id": "USDT", "amount": "61"}, http.StatusConflict, "insufficient_funds"},
		{"numeric amount", `{"to_user_id":"bob","asset_id":"USDT","amount":5}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown field", `{"to_user_id":"bob","asset_id":"USDT","amount":"5","from_user_id":"carol"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"system account", map[string]string{"to_user_id": domain.FeeAccount, "asset_id": "USDT", "amount": "5"}, http.StatusUnprocessableEntity, "validation_error"},
		{"to self", map[string]string{"to_user_id": "alice", "asset_id": "USDT", "amount": "5"}, http.StatusUnprocessableEntity, "validation_error"},
		{"too many decimals", map[string]string{"to_user_id": "bob", "asset_id": "USDT", "amount": "0.0000001"}, http.StatusUnprocessableEntity, "validation_error"},
		{"malformed", `{"to_user_id":`, http.StatusBadRequest, "invalid_json"},
		{"settlement reference", map[string]string{"to_user_id": "bob", "asset_id": "USDT", "amount": "1", "reference_id": "p2p_release_abc"}, http.StatusUnprocessableEntity, "validation_error"},
		{"generated reference", map[string]string{"to_user_id": "bob", "asset_id": "USDT", "amount": "1", "reference_id": "SWAP_abc"}, http.StatusUnprocessableEntity, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(t, http.MethodPost, "/v1/wallets/transfer", alice, tt.body)
			assert.Equal(t, tt.status, res.status, res.body)
			assert.Equal(t, tt.code, res.str("error"))
		})
	}

	available, _ = s.balance(t, alice, "USDT")
	assertAmount(t, "60", available)

	// Another user reusing alice's reference learns nothing about her transfer.
	carol := s.user(t, "carol")
	s.deposit(t, "carol", "USDT", "5")
	res = s.do(t, http.MethodPost, "/v1/wallets/transfer", carol,
		map[string]string{"to_user_id": "dave", "asset_id": "USDT", "amount": "1", "reference_id": "txn-1"})
	assert.Equal(t, http.StatusConflict, res.status, res.body)
	assert.Equal(t, "duplicate_reference", res.str("error"))
	assert.NotContains(t, res.body, "entries")
	available, _ = s.balance(t, carol, "USDT")
	assertAmount(t, "5", available)
}

func TestWithdrawChargesFee(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.user(t, "alice")
	s.deposit(t, "alice", "NGN", "1000")

	res := s.do(t, http.MethodPost, "/v1/wallets/withdraw", alice, map[string]string{"asset_id": "NGN", "amount": "500"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assertAmount(t, "450", res.str("to_amount"))
	assertAmount(t, "50", res.str("fee"))

	available, _ := s.balance(t, alice, "NGN")
	assertAmount(t, "500", available)

	res = s.do(t, http.MethodPost, "/v1/wallets/withdraw", alice, map[string]string{"asset_id": "NGN", "amount": "50"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
}

func TestP2POrderOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	seller, buyer, stranger := s.user(t, "seller"), s.user(t, "buyer"), s.user(t, "mallory")
	s.deposit(t, "seller", "USDT", "500")

	res := s.do(t, http.MethodPost, "/v1/p2p/ads", seller, map[string]any{
		"side": "SELL", "asset_id": "USDT", "fiat_asset_id": "NGN", "price": "1565",
		"min_limit": "1000", "max_limit": "100000", "available_amount": "200",
		"payment_methods": []string{"bank_transfer"},
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	adID := res.str("id")

	res = s.do(t, http.MethodGet, "/v1/p2p/ads?asset=USDT&side=SELL", buyer, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.body["ads"], 1)

	res = s.do(t, http.MethodPost, "/v1/p2p/orders", buyer, map[string]string{"ad_id": adID, "fiat_amount": "78250"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	orderID := res.str("id")
	assertAmount(t, "50", res.str("crypto_amount"))
	assert.Equal(t, "CREATED", res.str("status"))

	_, locked := s.balance(t, seller, "USDT")
	assertAmount(t, "50", locked)

	res = s.do(t, http.MethodGet, "/v1/p2p/orders/"+orderID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPost, "/v1/p2p/orders/"+orderID+"/release", seller, nil)
	assert.Equal(t, http.StatusConflict, res.status, "release before payment")
	assert.Equal(t, "order_state_violation", res.str("error"))

	res = s.do(t, http.MethodPost, "/v1/p2p/orders/"+orderID+"/paid", seller, nil)
	assert.Equal(t, http.StatusForbidden, res.status, "only the buyer marks paid")

	res = s.do(t, http.MethodPost, "/v1/p2p/orders/"+orderID+"/paid", buyer, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "PAID", res.str("status"))

	res = s.do(t, http.MethodPost, "/v1/p2p/orders/"+orderID+"/release", seller, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "COMPLETED", res.str("status"))

	available, _ := s.balance(t, buyer, "USDT")
	assertAmount(t, "50", available)
	available, locked = s.balance(t, seller, "USDT")
	assertAmount(t, "450", available)
	assertAmount(t, "0", locked)

	res = s.do(t, http.MethodPost, "/v1/p2p/orders/missing/paid", buyer, nil)
	assert.Equal(t, http.StatusNotFound, res.status)

	res = s.do(t, http.MethodDelete, "/v1/p2p/ads/"+adID, buyer, nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodDelete, "/v1/p2p/ads/"+adID, seller, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "CLOSED", res.str("status"))
}

func TestDisputeResolvedByAdmin(t *testing.T) {
	s := newTestServer(t, nil)
	seller, buyer := s.user(t, "seller"), s.user(t, "buyer")
	s.deposit(t, "seller", "USDT", "100")

	res := s.do(t, http.MethodPost, "/v1/p2p/ads", seller, map[string]any{
		"side": "SELL", "asset_id": "USDT", "fiat_asset_id": "NGN", "price": "1565",
		"min_limit": "1000", "max_limit": "100000", "available_amount": "100",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	res = s.do(t, http.MethodPost, "/v1/p2p/orders", buyer, map[string]string{"ad_id": res.str("id"), "fiat_amount": "15650"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	orderPath := "/v1/p2p/orders/" + res.str("id")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, orderPath+"/paid", buyer, nil).status)
	res = s.do(t, http.MethodPost, orderPath+"/dispute", seller, map[string]string{"reason": "payment not received"})
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "DISPUTE", res.str("status"))

	resolvePath := "/v1/admin" + strings.TrimPrefix(orderPath, "/v1") + "/resolve"
	res = s.do(t, http.MethodPost, resolvePath, seller, map[string]string{"outcome": "SELLER"})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodPost, resolvePath, s.admin(t), map[string]string{"outcome": "SELLER"})
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "RESOLVED_SELLER", res.str("status"))

	available, locked := s.balance(t, seller, "USDT")
	assertAmount(t, "100", available)
	assertAmount(t, "0", locked)
}

func TestMarketOrderAppliesCorporateTier(t *testing.T) {
	s := newTestServer(t, nil)
	s.deposit(t, domain.LiquidityAccount, "NGN", "5000000")
	s.deposit(t, "alice", "BTC", "1")
	s.deposit(t, "acme", "BTC", "1")

	res := s.do(t, http.MethodPost, "/v1/trade/market", s.user(t, "alice"), map[string]string{
		"from_asset": "BTC", "to_asset": "NGN", "amount": "0.01",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assertAmount(t, "995572.75", res.str("gross"))
	assertAmount(t, "4977.86", res.str("fee"))
	assertAmount(t, "990594.89", res.str("net"))

	corporate := s.token(t, "acme", []string{auth.RoleCorporate}, auth.ScopeTradeExecute)
	res = s.do(t, http.MethodPost, "/v1/trade/market", corporate, map[string]string{
		"from_asset": "BTC", "to_asset": "NGN", "amount": "0.01",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assertAmount(t, "1991.15", res.str("fee"))

	res = s.do(t, http.MethodGet, "/v1/trade/quote?base=USDT&quote=NGN", corporate, nil)
	require.Equal(t, http.StatusOK, res.status)
	assertAmount(t, "1550", res.str("price"))

	res = s.do(t, http.MethodPost, "/v1/trade/market", s.user(t, "alice"), map[string]string{
		"from_asset": "BTC", "to_asset": "DOGE", "amount": "0.01",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
}

func TestLimitOrderPlaceAndCancel(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.user(t, "alice")
	s.deposit(t, "alice", "USDT", "1000")

	res := s.do(t, http.MethodPost, "/v1/trade/limit", alice, map[string]string{
		"side": "BUY", "base_asset": "BTC", "quote_asset": "USDT", "amount": "600", "limit_price": "60000",
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assert.Equal(t, "OPEN", res.str("status"))
	orderID := res.str("id")

	available, locked := s.balance(t, alice, "USDT")
	assertAmount(t, "400", available)
	assertAmount(t, "600", locked)

	res = s.do(t, http.MethodGet, "/v1/trade/limit/"+orderID, s.user(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	res = s.do(t, http.MethodDelete, "/v1/trade/limit/"+orderID, s.user(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodDelete, "/v1/trade/limit/"+orderID, alice, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "CANCELLED", res.str("status"))

	res = s.do(t, http.MethodDelete, "/v1/trade/limit/"+orderID, alice, nil)
	assert.Equal(t, http.StatusConflict, res.status)

	available, locked = s.balance(t, alice, "USDT")
	assertAmount(t, "1000", available)
	assertAmount(t, "0", locked)
}

func TestAdminReconcile(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.user(t, "alice")
	s.deposit(t, "alice", "USDT", "100")

	res := s.do(t, http.MethodGet, "/v1/wallets", alice, nil)
	require.Equal(t, http.StatusOK, res.status)
	walletID := res.body["wallets"].([]any)[0].(map[string]any)["id"].(string)

	res = s.do(t, http.MethodGet, "/v1/admin/reconcile/"+walletID, alice, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(t, http.MethodGet, "/v1/admin/reconcile/"+walletID, s.admin(t), nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, true, res.body["is_valid"])

	res = s.do(t, http.MethodGet, "/v1/admin/reconcile/missing", s.admin(t), nil)
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := newTestServer(t, func(d *Dependencies) {
		d.RateLimiter = &security.RedisTokenBucket{Redis: rdb, Prefix: "api", Capacity: 2, RefillRate: 0.001}
	})
	alice, bob := s.user(t, "alice"), s.user(t, "bob")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/wallets", alice, nil).status)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/wallets", alice, nil).status)
	res := s.do(t, http.MethodGet, "/v1/wallets", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, res.status)
	assert.Equal(t, "rate_limited", res.str("error"))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/wallets", bob, nil).status)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).status)
}

func TestIPAllowlistBlocksOutsiders(t *testing.T) {
	allow, err := security.ParseAllowlist([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	s := newTestServer(t, func(d *Dependencies) { d.IPAllowlist = allow })

	res := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusForbidden, res.status)
}

func TestAuditChainRecordsRequests(t *testing.T) {
	s := newTestServer(t, nil)
	s.deposit(t, "alice", "USDT", "10")
	s.do(t, http.MethodGet, "/v1/wallets", "", nil)

	s.auditor.mu.Lock()
	defer s.auditor.mu.Unlock()
	require.NotEmpty(t, s.auditor.entries)
	assert.True(t, audit.VerifyChain(s.auditor.entries))

	var payloads []string
	for _, e := range s.auditor.entries {
		payloads = append(payloads, e.Payload)
	}
	joined := strings.Join(payloads, "\n")
	assert.Contains(t, joined, "sub=ops method=POST path=/v1/wallets/deposit status=201")
	assert.Contains(t, joined, "sub=- method=GET path=/v1/wallets status=401")
}
