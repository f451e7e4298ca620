package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/p2p"
)

type createAdRequest struct {
	Side            domain.AdSide   `json:"side"`
	AssetID         string          `json:"asset_id"`
	FiatAssetID     string          `json:"fiat_asset_id"`
	Price           decimal.Decimal `json:"price"`
	MinLimit        decimal.Decimal `json:"min_limit"`
	MaxLimit        decimal.Decimal `json:"max_limit"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentMethods  []string        `json:"payment_methods"`
}

type createOrderRequest struct {
	AdID       string          `json:"ad_id"`
	FiatAmount decimal.Decimal `json:"fiat_amount"`
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Outcome p2p.Outcome `json:"outcome"`
}

type orderFunc func(s *p2p.Service, ctx context.Context, actor p2p.Actor, orderID string) (*domain.Order, error)

func (s *server) handleListAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ads, err := s.p2p.ListAds(r.Context(), domain.AdFilter{
		AssetID: q.Get("asset"),
		Side:    domain.AdSide(q.Get("side")),
		Status:  domain.AdActive,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ads == nil {
		ads = []*domain.Ad{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ads": ads})
}

func (s *server) handleCreateAd(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req createAdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ad, err := s.p2p.CreateAd(r.Context(), p2p.CreateAdRequest{
		MakerID:         p.UserID,
		Side:            req.Side,
		AssetID:         req.AssetID,
		FiatAssetID:     req.FiatAssetID,
		Price:           req.Price,
		MinLimit:        req.MinLimit,
		MaxLimit:        req.MaxLimit,
		AvailableAmount: req.AvailableAmount,
		PaymentMethods:  req.PaymentMethods,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ad)
}

func (s *server) handleCloseAd(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ad, err := s.p2p.CloseAd(r.Context(), p2p.User(p.UserID), chi.URLParam(r, "adID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ad)
}

func (s *server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.p2p.CreateOrder(r.Context(), p.UserID, req.AdID, req.FiatAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, order)
}

func (s *server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	actor := p2p.User(p.UserID)
	if p.HasRole(auth.RoleAdmin) {
		actor = p2p.Admin(p.UserID)
	}
	order, err := s.p2p.GetOrder(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}

// orderAction adapts a buyer or seller transition to a handler.
func (s *server) orderAction(fn orderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		order, err := fn(s.p2p, r.Context(), p2p.User(p.UserID), chi.URLParam(r, "orderID"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, order)
	}
}

func (s *server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := s.p2p.OpenDispute(r.Context(), p2p.User(p.UserID), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}

func (s *server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := s.p2p.ResolveDispute(r.Context(), p2p.Admin(p.UserID), chi.URLParam(r, "orderID"), req.Outcome)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, order)
}
