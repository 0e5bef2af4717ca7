/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The billing package wraps these with invoice-level context where needed.

ERROR CATEGORIES:
  1. Balance errors - Insufficient funds for a deduction
  2. Immutability errors - Touching an invoice-linked entry
  3. Deletion-lifecycle errors - Grace-period delete violations
  4. Store errors - Persistence failures

USAGE:
  Callers classify with errors.Is():

    if errors.Is(err, ledger.ErrInsufficientRetainerBalance) {
        // show the operator the shortfall, do not retry
    }

SEE ALSO:
  - ledger.go: Uses the immutability errors
  - deferred.go: Uses the deletion-lifecycle errors
  - billing/errors.go: Invoice-level taxonomy
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientRetainerBalance is returned when a deduction exceeds the
	// case's current retainer balance at commit time. The balance is always
	// re-read at commit, never trusted from an earlier UI read.
	ErrInsufficientRetainerBalance = errors.New("insufficient retainer balance")

	// ErrEntryLinkedToInvoice is returned when editing or deleting an entry
	// that settles an invoice. Such entries only change as a cascading
	// consequence of deleting the invoice itself.
	ErrEntryLinkedToInvoice = errors.New("entry is linked to an invoice")

	// ErrEntryNotFound is returned when a referenced entry does not exist
	// within the caller's organization.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrDeleteAlreadyPending is returned when a second grace-period delete
	// is requested for an item whose timer is still pending.
	ErrDeleteAlreadyPending = errors.New("delete already pending")

	// ErrUndoTooLate is returned when undo arrives after the grace window
	// fired and the persistent delete was issued.
	ErrUndoTooLate = errors.New("undo too late: delete already committed")

	// ErrStoreUnavailable wraps transport/persistence failures. The deferred
	// deletion layer reacts by re-inserting the optimistically removed item.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrZeroAmount is returned for entries or payments with a zero or
	// missing amount.
	ErrZeroAmount = errors.New("amount must be non-zero")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a retainer shortfall with the numbers
// the operator needs to correct the input.
type InsufficientBalanceError struct {
	CaseID    CaseID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient retainer balance for case %s: available %s, requested %s",
		e.CaseID, e.Available.StringFixed(MinorUnits), e.Requested.StringFixed(MinorUnits))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientRetainerBalance
}

// LinkedEntryError reports which invoice pins the entry in place.
type LinkedEntryError struct {
	EntryID   EntryID
	InvoiceID InvoiceRef
}

func (e *LinkedEntryError) Error() string {
	return fmt.Sprintf("entry %s settles invoice %s and cannot be modified independently",
		e.EntryID, e.InvoiceID)
}

func (e *LinkedEntryError) Unwrap() error {
	return ErrEntryLinkedToInvoice
}

// DeletePendingError reports when the already-pending delete will fire.
type DeletePendingError struct {
	ItemID  string
	FiresAt time.Time
}

func (e *DeletePendingError) Error() string {
	return fmt.Sprintf("delete already pending for %s (fires at %s)",
		e.ItemID, e.FiresAt.Format(time.RFC3339))
}

func (e *DeletePendingError) Unwrap() error {
	return ErrDeleteAlreadyPending
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid operator input
// and should map to a 4xx response rather than a retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientRetainerBalance) ||
		errors.Is(err, ErrEntryLinkedToInvoice) ||
		errors.Is(err, ErrDeleteAlreadyPending) ||
		errors.Is(err, ErrUndoTooLate) ||
		errors.Is(err, ErrZeroAmount)
}

// IsNotFound returns true if the error indicates a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}

// IsRetryable returns true for transient persistence failures. Domain
// rejections are never retryable: retrying a payment without re-validating
// balances risks double application.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
