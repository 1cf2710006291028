package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrBatchClosed is returned when closing a batch that is already closed.
	ErrBatchClosed = errors.New("batch already closed")

	// ErrBatchNotClosed is returned when settling a batch that was never closed.
	ErrBatchNotClosed = errors.New("batch not closed")

	// ErrBatchSettled is returned when touching a batch that is already settled.
	ErrBatchSettled = errors.New("batch already settled")

	// ErrProposalNotFound is returned when a proposal id is unknown to the ledger.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrProposalTerminal is returned when mutating an executed or cancelled proposal.
	ErrProposalTerminal = errors.New("proposal in terminal state")

	// ErrCooldownActive is returned when executing a proposal before its deadline.
	// The caller must re-invoke after executeAfter; there is no automatic retry.
	ErrCooldownActive = errors.New("settlement cooldown active")

	// ErrUnauthorized is returned before any state is touched when the caller
	// lacks the required capability.
	ErrUnauthorized = errors.New("unauthorized")
)

// StateError wraps a batch/proposal state violation. Any state violation is
// fatal: the whole operation aborts with zero partial effect.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return "state violation [" + e.Op + "]: " + e.Err.Error()
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError wraps err as a state violation occurring in op.
func NewStateError(op string, err error) *StateError {
	return &StateError{Op: op, Err: err}
}

// InvariantError reports an input that violates an engine invariant (wrong-path
// netting sign, profit share above 100%, missing account). Rejected before any
// external call is made.
type InvariantError struct {
	Field  string
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violation [" + e.Field + "]: " + e.Reason
}

// NewInvariantError creates an invariant violation for field.
func NewInvariantError(field, reason string) *InvariantError {
	return &InvariantError{Field: field, Reason: reason}
}

// ShortfallError reports a post-transfer balance below the expected minimum,
// e.g. due to rounding drift or front-running. Surfaced distinctly from state
// violations so relayers can tell the two apart.
type ShortfallError struct {
	Account  string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("resource shortfall [%s]: expected at least %s, have %s",
		e.Account, e.Expected.String(), e.Actual.String())
}

// IsStateViolation reports whether err is a batch/proposal state violation.
func IsStateViolation(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsInvariantViolation reports whether err is an engine invariant violation.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// IsShortfall reports whether err is a resource shortfall.
func IsShortfall(err error) bool {
	var se *ShortfallError
	return errors.As(err, &se)
}
