/*
errors.go - Invoice-level error taxonomy

PURPOSE:
  Settlement rejections, each naming the invariant that was violated so
  the operator can correct the input rather than retry blindly. None of
  these are retried automatically: retrying a payment without
  re-validating balances risks double application.

SEE ALSO:
  - ledger/errors.go: Fund-level errors (insufficient balance, linked entry)
  - settlement.go: Where these are raised
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverpaymentRejected is returned when a payment exceeds the
	// invoice's balance due. Never clamped silently.
	ErrOverpaymentRejected = errors.New("overpayment rejected")

	// ErrInvoiceAlreadySettled is returned when paying an invoice whose
	// status is already paid.
	ErrInvoiceAlreadySettled = errors.New("invoice already settled")

	// ErrInvoiceNotPayable is returned when paying a draft invoice.
	ErrInvoiceNotPayable = errors.New("invoice not payable in current status")

	// ErrStaleInvoiceState is the compare-and-swap rejection: the invoice's
	// TotalPaid changed between read and commit (another client settled
	// concurrently). The whole settlement unit is rolled back.
	ErrStaleInvoiceState = errors.New("stale invoice state")

	// ErrInvalidSplit is returned when a mixed payment's portions do not
	// sum exactly to the payment amount after normalization.
	ErrInvalidSplit = errors.New("mixed payment portions do not sum to amount")

	// ErrInvoiceNotFound is returned when a referenced invoice does not
	// exist within the caller's organization.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceNotEditable is returned when editing the total of an
	// invoice that already has payments applied.
	ErrInvoiceNotEditable = errors.New("invoice has payments and cannot be edited")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the violated numbers
// =============================================================================

// OverpaymentError reports how much was tendered against what was due.
type OverpaymentError struct {
	InvoiceID InvoiceID
	Due       decimal.Decimal
	Tendered  decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment rejected for invoice %s: due %s, tendered %s",
		e.InvoiceID, e.Due.StringFixed(ledger.MinorUnits), e.Tendered.StringFixed(ledger.MinorUnits))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpaymentRejected }

// SplitError reports a mixed split that does not add up.
type SplitError struct {
	Amount          decimal.Decimal
	RetainerPortion decimal.Decimal
	ExternalPortion decimal.Decimal
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("mixed split %s + %s does not sum to payment amount %s",
		e.RetainerPortion.StringFixed(ledger.MinorUnits),
		e.ExternalPortion.StringFixed(ledger.MinorUnits),
		e.Amount.StringFixed(ledger.MinorUnits))
}

func (e *SplitError) Unwrap() error { return ErrInvalidSplit }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true for rejections caused by operator input,
// including the fund-level ones the ledger package raises.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverpaymentRejected) ||
		errors.Is(err, ErrInvoiceAlreadySettled) ||
		errors.Is(err, ErrInvoiceNotPayable) ||
		errors.Is(err, ErrInvalidSplit) ||
		errors.Is(err, ErrInvoiceNotEditable) ||
		ledger.IsClientError(err)
}

// IsConflict returns true for rejections that reflect a concurrent
// mutation rather than bad input. Callers should re-read and re-validate;
// the engine never retries on its own.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStaleInvoiceState)
}

// IsNotFound returns true if the error indicates a missing invoice or entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) || ledger.IsNotFound(err)
}
