package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/security"
)

type transferRequest struct {
	ToUserID    string          `json:"to_user_id"`
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

type depositRequest struct {
	UserID      string          `json:"user_id"`
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

type withdrawRequest struct {
	AssetID     string          `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

func (s *server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	wallets, err := s.ledger.Balances(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if wallets == nil {
		wallets = []*domain.Wallet{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"wallets": wallets})
}

func (s *server) handleWalletEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			security.WriteJSONErrorMessage(w, r, http.StatusUnprocessableEntity, "validation_error", "since must be RFC 3339")
			return
		}
		since = t
	}

	entries, err := s.ledger.EntriesFor(r.Context(), p.UserID, chi.URLParam(r, "assetID"), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*domain.Entry{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if domain.IsSystemAccount(req.ToUserID) {
		security.WriteJSONErrorMessage(w, r, http.StatusUnprocessableEntity, "validation_error", "cannot transfer to a system account")
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = ledger.NewReference("txn")
	}

	res, err := s.ledger.TransferFunds(r.Context(), ledger.TransferRequest{
		FromUserID:  p.UserID,
		ToUserID:    req.ToUserID,
		AssetID:     req.AssetID,
		Amount:      req.Amount,
		Type:        domain.EntryTransfer,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, created(res.Duplicate), res)
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if domain.IsSystemAccount(req.UserID) && req.UserID != domain.LiquidityAccount {
		security.WriteJSONErrorMessage(w, r, http.StatusUnprocessableEntity, "validation_error", "cannot deposit to "+req.UserID)
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = ledger.NewReference("dep")
	}

	res, err := s.ledger.Deposit(r.Context(), req.UserID, req.AssetID, req.Amount, req.ReferenceID, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, created(res.Duplicate), res)
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = ledger.NewReference("wd")
	}

	res, err := s.ledger.Withdraw(r.Context(), ledger.WithdrawRequest{
		UserID:      p.UserID,
		AssetID:     req.AssetID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, created(res.Duplicate), res)
}
