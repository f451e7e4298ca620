package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/escrow-ledger/pkg/audit"
)

type Auditor interface {
	Append(payload string) (*audit.LogEntry, error)
}

// Notifier fans a committed settlement out to the audit chain and the
// event stream. Failures are logged; the settlement stays committed.
type Notifier struct {
	Publisher Publisher
	Auditor   Auditor
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Settled records ev. A nil Notifier does nothing.
func (n *Notifier) Settled(ctx context.Context, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if n.Auditor != nil {
		if _, err := n.Auditor.Append(auditPayload(ev)); err != nil {
			logger.Error("audit_append_failed", "type", ev.Type, "reference_id", ev.ReferenceID, "error", err)
		}
	}

	if n.Publisher != nil {
		timeout := n.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := n.Publisher.Publish(pctx, ev); err != nil {
			logger.Error("event_publish_failed", "type", ev.Type, "reference_id", ev.ReferenceID, "error", err)
		}
	}
}

func auditPayload(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s ref=%s", ev.Type, ev.ReferenceID)
	if ev.Subject != "" {
		fmt.Fprintf(&b, " subject=%s", ev.Subject)
	}
	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, ev.Attributes[k])
	}
	return b.String()
}
