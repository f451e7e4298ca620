package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/escrow-ledger/internal/auth"
	"github.com/example/escrow-ledger/internal/events"
	"github.com/example/escrow-ledger/internal/security"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

type auditSubjectKey struct{}

// auditSubject is filled in by recordSubject once the caller is known.
type auditSubject struct {
	userID string
}

// AuditMiddleware appends one chain entry per request. Requests that
// never authenticated are recorded with subject "-".
func AuditMiddleware(a events.Auditor, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			subject := &auditSubject{userID: "-"}

			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), auditSubjectKey{}, subject)))
			dur := time.Since(start)

			payload := fmt.Sprintf("http cid=%s sub=%s method=%s path=%s status=%d dur_ms=%d",
				security.CorrelationIDFromContext(r.Context()), subject.userID, r.Method, r.URL.Path, sw.status, dur.Milliseconds())
			if _, err := a.Append(payload); err != nil && logger != nil {
				logger.Error("audit_append_failed", "path", r.URL.Path, "err", err)
			}
		})
	}
}

// recordSubject copies the authenticated caller into the audit record.
func recordSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject, ok := r.Context().Value(auditSubjectKey{}).(*auditSubject); ok {
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				subject.userID = p.UserID
			}
		}
		next.ServeHTTP(w, r)
	})
}
