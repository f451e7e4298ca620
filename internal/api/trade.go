package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/trade"
)

type marketOrderRequest struct {
	FromAsset   string          `json:"from_asset"`
	ToAsset     string          `json:"to_asset"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
}

type limitOrderRequest struct {
	Side       domain.LimitSide `json:"side"`
	BaseAsset  string           `json:"base_asset"`
	QuoteAsset string           `json:"quote_asset"`
	Amount     decimal.Decimal  `json:"amount"`
	LimitPrice decimal.Decimal  `json:"limit_price"`
}

type quoteResponse struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Price decimal.Decimal `json:"price"`
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	base, quote := r.URL.Query().Get("base"), r.URL.Query().Get("quote")
	price, err := s.trade.Rates().Quote(base, quote)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, quoteResponse{Base: base, Quote: quote, Price: price})
}

func (s *server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req marketOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	swap, err := s.trade.ExecuteMarketOrder(r.Context(), trade.MarketOrderRequest{
		UserID:      p.UserID,
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Corporate:   p.HasRole(auth.RoleCorporate),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, created(swap.Duplicate), swap)
}

func (s *server) handlePlaceLimit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req limitOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.trade.PlaceLimitOrder(r.Context(), trade.LimitOrderRequest{
		UserID:     p.UserID,
		Side:       req.Side,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
		Amount:     req.Amount,
		LimitPrice: req.LimitPrice,
		Corporate:  p.HasRole(auth.RoleCorporate),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, order)
}

func (s *server) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	order, err := s.trade.GetLimitOrder(r.Context(), p.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}

func (s *server) handleCancelLimit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	order, err := s.trade.CancelLimitOrder(r.Context(), p.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}
