/*
Package billing layers invoice settlement on top of the retainer ledger.

PURPOSE:
  This package owns the Invoice entity, its status lifecycle, and the
  settlement processor: the one write path that applies a payment to an
  invoice, drawing from the case's retainer fund, recording an external
  payment, or splitting between the two - while keeping the invoice's
  paid/balance/status fields and the case's fund entries mutually
  consistent.

KEY CONCEPTS IN THIS FILE (invoice.go):
  - Invoice: Billing document with Total and maintained TotalPaid/BalanceDue
  - PaymentSource: retainer, external, or an explicit mixed split

CORE INVARIANT:
  TotalPaid + BalanceDue == Total, within one minor unit, at all times.
  BalanceDue never goes negative: overpayment is rejected, not clamped.
  Both paid figures are maintained only by the settlement processor and
  read as already-settled values everywhere else - display code never
  recomputes them, so they cannot drift apart.

SEE ALSO:
  - status.go: Status derivation rules
  - settlement.go: RecordPayment and invoice lifecycle operations
  - store.go: Combined persistence interface
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// INVOICE - Billing document scoped to one case
// =============================================================================

type InvoiceID string

// Invoice is a billing document. Total is fixed by create/edit operations;
// TotalPaid, BalanceDue and Status are maintained exclusively by the
// settlement processor.
type Invoice struct {
	ID         InvoiceID
	CaseID     ledger.CaseID
	OrgID      ledger.OrgID
	Total      decimal.Decimal
	TotalPaid  decimal.Decimal
	BalanceDue decimal.Decimal
	Status     Status
	DueDate    *time.Time
	CreatedAt  time.Time
}

// Ref returns the invoice id as the ledger's opaque back-reference type.
func (i Invoice) Ref() ledger.InvoiceRef { return ledger.InvoiceRef(i.ID) }

// Reconciled reports whether the paid/balance/total triple holds together
// within one minor unit. Persisted invoices must always satisfy this.
func (i Invoice) Reconciled() bool {
	return ledger.WithinMinorUnit(i.TotalPaid.Add(i.BalanceDue), i.Total)
}

// Settled reports whether the invoice accepts further payments.
func (i Invoice) Settled() bool { return i.Status == StatusPaid }

// InvoicePatch describes an update to an invoice's derived fields.
// Nil fields are left unchanged.
//
// ExpectedTotalPaid is the compare-and-swap guard: when set, the store
// must reject the patch with ErrStaleInvoiceState unless the persisted
// TotalPaid still equals it. The settlement processor always sets it to
// the value it read at the start of the operation, so a concurrent
// settlement from another client fails cleanly instead of applying twice.
type InvoicePatch struct {
	Total      *decimal.Decimal
	TotalPaid  *decimal.Decimal
	BalanceDue *decimal.Decimal
	Status     *Status
	DueDate    **time.Time

	ExpectedTotalPaid *decimal.Decimal
}

// =============================================================================
// PAYMENT SOURCE - Where the money comes from
// =============================================================================

type SourceKind string

const (
	// SourceRetainer draws the full amount from the case's retainer fund.
	SourceRetainer SourceKind = "retainer"
	// SourceExternal records the payment as received outside the fund
	// (check, wire, card). No ledger entry is written.
	SourceExternal SourceKind = "external"
	// SourceMixed splits between an explicit retainer portion and an
	// explicit external portion.
	SourceMixed SourceKind = "mixed"
)

// PaymentSource describes how a payment is funded. For SourceMixed the
// portions are explicit and must sum exactly to the payment amount after
// normalization - the engine never invents a fractional-cent allocation.
type PaymentSource struct {
	Kind            SourceKind
	RetainerPortion decimal.Decimal // used by SourceMixed only
	ExternalPortion decimal.Decimal // used by SourceMixed only
}

// Retainer funds the whole payment from the case's retainer.
func Retainer() PaymentSource { return PaymentSource{Kind: SourceRetainer} }

// External records the whole payment as externally received.
func External() PaymentSource { return PaymentSource{Kind: SourceExternal} }

// Mixed splits the payment between the retainer fund and an external
// payment.
func Mixed(retainerPortion, externalPortion decimal.Decimal) PaymentSource {
	return PaymentSource{
		Kind:            SourceMixed,
		RetainerPortion: ledger.Normalize(retainerPortion),
		ExternalPortion: ledger.Normalize(externalPortion),
	}
}

// retainerShare returns how much of amount comes from the retainer fund.
func (s PaymentSource) retainerShare(amount decimal.Decimal) decimal.Decimal {
	switch s.Kind {
	case SourceRetainer:
		return amount
	case SourceMixed:
		return s.RetainerPortion
	default:
		return decimal.Zero
	}
}

// NewInvoiceID mints an opaque invoice identifier.
func NewInvoiceID() InvoiceID {
	return InvoiceID("inv-" + uuid.NewString())
}
