package p2p

import (
	"fmt"

	"github.com/example/escrow-ledger/internal/domain"
	"github.com/example/escrow-ledger/internal/ledger"
)

// Operations that move an order between states.
const (
	OpMarkPaid = "mark_paid"
	OpRelease  = "release"
	OpCancel   = "cancel"
	OpDispute  = "dispute"
	OpResolve  = "resolve"
)

// InvalidStateTransitionError represents a transition outside the order graph.
type InvalidStateTransitionError struct {
	FromState domain.OrderStatus
	ToState   domain.OrderStatus
	OrderID   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for order %s", e.FromState, e.ToState, e.OrderID)
}

// InvalidOperationError represents an operation that the current state does not accept.
type InvalidOperationError struct {
	State     domain.OrderStatus
	Operation string
	OrderID   string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s for state %s in order %s", e.Operation, e.State, e.OrderID)
}

// AllowedTransitions defines the order graph. States without outgoing
// edges are terminal.
func AllowedTransitions() map[domain.OrderStatus][]domain.OrderStatus {
	return map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderCreated:        {domain.OrderPaid, domain.OrderCancelled},
		domain.OrderPaid:           {domain.OrderCompleted, domain.OrderDispute},
		domain.OrderDispute:        {domain.OrderResolvedBuyer, domain.OrderResolvedSeller},
		domain.OrderCompleted:      {},
		domain.OrderCancelled:      {},
		domain.OrderResolvedBuyer:  {},
		domain.OrderResolvedSeller: {},
	}
}

func IsValidTransition(from, to domain.OrderStatus) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no operation can move the order further.
func IsTerminal(s domain.OrderStatus) bool {
	next, known := AllowedTransitions()[s]
	return known && len(next) == 0
}

// ValidateOperation checks that op is accepted in state.
func ValidateOperation(state domain.OrderStatus, op string) error {
	var want domain.OrderStatus
	switch op {
	case OpMarkPaid, OpCancel:
		want = domain.OrderCreated
	case OpRelease, OpDispute:
		want = domain.OrderPaid
	case OpResolve:
		want = domain.OrderDispute
	default:
		return fmt.Errorf("unknown operation: %s", op)
	}
	if state != want {
		return &InvalidOperationError{State: state, Operation: op}
	}
	return nil
}

// transition moves o to the target state when both the operation and the
// edge are allowed. Failures carry the OrderStateViolation kind.
func transition(o *domain.Order, to domain.OrderStatus, op string) error {
	if err := ValidateOperation(o.Status, op); err != nil {
		if opErr, ok := err.(*InvalidOperationError); ok {
			opErr.OrderID = o.ID
		}
		return ledger.Wrap(ledger.KindOrderStateViolation, op, err)
	}
	if !IsValidTransition(o.Status, to) {
		return ledger.Wrap(ledger.KindOrderStateViolation, op, &InvalidStateTransitionError{
			FromState: o.Status,
			ToState:   to,
			OrderID:   o.ID,
		})
	}
	o.Status = to
	return nil
}

// StatusDescription provides human-readable descriptions of order states.
func StatusDescription(s domain.OrderStatus) string {
	switch s {
	case domain.OrderCreated:
		return "Order opened; seller funds are locked until the buyer pays"
	case domain.OrderPaid:
		return "Buyer marked the fiat payment as sent"
	case domain.OrderCompleted:
		return "Seller released the locked funds to the buyer"
	case domain.OrderCancelled:
		return "Order cancelled and locked funds returned to the seller"
	case domain.OrderDispute:
		return "Payment is disputed and awaits an administrator"
	case domain.OrderResolvedBuyer:
		return "Dispute resolved for the buyer; funds released"
	case domain.OrderResolvedSeller:
		return "Dispute resolved for the seller; funds refunded"
	default:
		return "Unknown state"
	}
}
