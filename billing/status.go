/*
status.go - Invoice status state machine

PURPOSE:
  Derives and validates the invoice lifecycle state from the paid/total
  relationship. Evaluated after every mutation of TotalPaid or Total.

STATES:
  draft -> sent -> {partial, paid}
  unpaid: reachable from sent once DueDate has passed with nothing paid.
          A derived "stale" state, not terminal - payment still moves the
          invoice forward to partial or paid.
  paid:   terminal. Further payments are rejected with
          ErrInvoiceAlreadySettled.

WHO TRANSITIONS WHAT:
  draft -> sent is an explicit user action (MarkSent), as is any manual
  status edit. The settlement processor only ever moves a
  sent/partial/unpaid invoice FORWARD - it never returns one to draft.

DERIVATION RULE (after every paid/total mutation):
  paid == 0, not past due  -> unchanged (stays draft or sent)
  paid == 0, past due      -> unpaid (only from sent/unpaid, never draft)
  0 < paid < total         -> partial
  paid >= total            -> paid

SEE ALSO:
  - settlement.go: Applies Derive after each payment
  - invoice.go: Invoice entity
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Invoice lifecycle states
// =============================================================================

type Status string

const (
	StatusDraft   Status = "draft"
	StatusSent    Status = "sent"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusUnpaid  Status = "unpaid"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartial, StatusPaid, StatusUnpaid:
		return true
	}
	return false
}

// Payable reports whether the settlement processor accepts payments in
// this state. Draft invoices are not payable: they have not been issued.
func (s Status) Payable() bool {
	switch s {
	case StatusSent, StatusPartial, StatusUnpaid:
		return true
	}
	return false
}

// =============================================================================
// DERIVATION
// =============================================================================

// Derive computes the status implied by the paid/total relationship,
// starting from the current status. It only moves forward: a draft stays
// draft until explicitly sent, and paid is terminal.
func Derive(current Status, totalPaid, total decimal.Decimal, dueDate *time.Time, now time.Time) Status {
	if totalPaid.GreaterThanOrEqual(total) && total.IsPositive() {
		return StatusPaid
	}
	if totalPaid.IsPositive() {
		return StatusPartial
	}

	// Nothing paid.
	if current == StatusDraft {
		return StatusDraft
	}
	if dueDate != nil && now.After(*dueDate) {
		return StatusUnpaid
	}
	if current == StatusUnpaid {
		// Past-due flag was set but the due date moved forward again.
		return StatusSent
	}
	return current
}

// Refresh re-derives an invoice's status in place and reports whether it
// changed. Used after payments, total edits, and due-date passage.
func Refresh(inv *Invoice, now time.Time) bool {
	next := Derive(inv.Status, inv.TotalPaid, inv.Total, inv.DueDate, now)
	if next == inv.Status {
		return false
	}
	inv.Status = next
	return true
}
