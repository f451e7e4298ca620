package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/ledger"
	"github.com/example/escrow-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a ledger error kind to the HTTP status returned for it.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindInsufficientFunds, ledger.KindOrderStateViolation, ledger.KindAdUnavailable, ledger.KindDuplicate:
		return http.StatusConflict
	case ledger.KindValidation:
		return http.StatusUnprocessableEntity
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindNotFound, ledger.KindWalletNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError renders err with a stable code. Rejections carry the ledger
// message; faults and unclassified errors are logged and hidden.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) || lerr.Kind.Fault() {
		s.logger.Error("request_failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	security.WriteJSONErrorMessage(w, r, statusFor(lerr.Kind), string(lerr.Kind), lerr.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// principal returns the authenticated caller. Routes under /v1 always
// have one; a missing principal is answered with 401.
func principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}

func created(duplicate bool) int {
	if duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}
