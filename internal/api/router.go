package api

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/p2p"
	"github.com/example/escrow-ledger/internal/security"
	"github.com/example/escrow-ledger/internal/trade"
)

type Dependencies struct {
	Logger       *slog.Logger
	JWTValidator *auth.JWTValidator

	Ledger *ledger.Engine
	P2P    *p2p.Service
	Trade  *trade.Service

	Auditor      events.Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []netip.Prefix
	CORSOrigins  []string
	MaxBodyBytes int64
}

type server struct {
	logger *slog.Logger
	ledger *ledger.Engine
	p2p    *p2p.Service
	trade  *trade.Service
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	schemas, err := security.CompileSchemas(requestSchemas)
	if err != nil {
		return nil, err
	}
	s := &server{logger: deps.Logger, ledger: deps.Ledger, p2p: deps.P2P, trade: deps.Trade}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}
	scope := func(scopes ...string) func(http.Handler) http.Handler {
		return auth.RequireScopes(onAuthError, scopes...)
	}
	admin := auth.RequireRole(onAuthError, auth.RoleAdmin)
	body := schemas.Validate

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", security.CorrelationIDHeader},
			ExposedHeaders:   []string{security.CorrelationIDHeader, "X-RateLimit-Remaining"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(security.MaxBytes(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor, deps.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))
		r.Use(recordSubject)
		if deps.RateLimiter != nil {
			r.Use(security.RateLimit(deps.RateLimiter, rateLimitKey))
		}

		r.Route("/wallets", func(r chi.Router) {
			r.With(scope(auth.ScopeWalletsRead)).Get("/", s.handleListWallets)
			r.With(scope(auth.ScopeWalletsRead)).Get("/{assetID}/entries", s.handleWalletEntries)
			r.With(scope(auth.ScopeTransfersWrite), body("transfer")).Post("/transfer", s.handleTransfer)
			r.With(scope(auth.ScopeTransfersWrite), body("withdraw")).Post("/withdraw", s.handleWithdraw)
			r.With(admin, body("deposit")).Post("/deposit", s.handleDeposit)
		})

		r.Route("/p2p", func(r chi.Router) {
			r.Get("/ads", s.handleListAds)
			r.With(scope(auth.ScopeP2PWrite), body("create_ad")).Post("/ads", s.handleCreateAd)
			r.With(scope(auth.ScopeP2PWrite)).Delete("/ads/{adID}", s.handleCloseAd)

			r.With(scope(auth.ScopeP2PWrite), body("create_order")).Post("/orders", s.handleCreateOrder)
			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Get("/", s.handleGetOrder)
				r.Group(func(r chi.Router) {
					r.Use(scope(auth.ScopeP2PWrite))
					r.Post("/paid", s.orderAction((*p2p.Service).MarkPaid))
					r.Post("/release", s.orderAction((*p2p.Service).Release))
					r.Post("/cancel", s.orderAction((*p2p.Service).Cancel))
					r.With(body("dispute")).Post("/dispute", s.handleOpenDispute)
				})
			})
		})

		r.Route("/trade", func(r chi.Router) {
			r.Use(scope(auth.ScopeTradeExecute))
			r.Get("/quote", s.handleQuote)
			r.With(body("market_order")).Post("/market", s.handleMarketOrder)
			r.With(body("limit_order")).Post("/limit", s.handlePlaceLimit)
			r.Get("/limit/{orderID}", s.handleGetLimit)
			r.Delete("/limit/{orderID}", s.handleCancelLimit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(admin)
			r.With(body("resolve_dispute")).Post("/p2p/orders/{orderID}/resolve", s.handleResolveDispute)
			r.Get("/reconcile/{walletID}", s.handleReconcile)
			r.Get("/references/{referenceID}", s.handleVerifyReference)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	return r, nil
}

// rateLimitKey buckets authenticated callers by subject and falls back to
// the peer address.
func rateLimitKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return "user:" + p.UserID
	}
	if ip := security.ClientIP(r); ip != "" {
		return "ip:" + ip
	}
	return ""
}
