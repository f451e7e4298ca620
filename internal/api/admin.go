package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Reconcile(r.Context(), chi.URLParam(r, "walletID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (s *server) handleVerifyReference(w http.ResponseWriter, r *http.Request) {
	res, err := s.ledger.VerifyReference(r.Context(), chi.URLParam(r, "referenceID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
