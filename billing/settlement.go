/*
settlement.go - The settlement processor

PURPOSE:
  The single write path for money moving against an invoice. Given an
  invoice and a payment amount, decides whether to draw from the case's
  retainer fund, record an external payment, or split between the two;
  writes the resulting fund entry and updates the invoice's
  paid/balance/status fields as ONE unit.

THE ONE LOGICAL UNIT:
  RecordPayment runs inside TxStore.WithTx:
    1. Re-read the invoice and, if a retainer portion is used, recompute
       the case's balance from the full entry set. Nothing read earlier
       in the UI flow is trusted.
    2. Insert the deduction entry (amount = -retainerPortion, linked to
       the invoice) when a retainer portion is used.
    3. Update the invoice: TotalPaid += amount, BalanceDue = Total -
       TotalPaid, Status re-derived - guarded by compare-and-swap on the
       TotalPaid read in step 1.
  Any failure rolls the whole unit back. A concurrent settlement from
  another client trips the CAS and fails with ErrStaleInvoiceState; it is
  surfaced, never retried here, because retrying without re-validating
  balances risks double application.

REJECTIONS (no state change, invariant named):
  ErrOverpaymentRejected       amount exceeds BalanceDue
  ErrInsufficientRetainerBalance retainer portion exceeds balance AT COMMIT
  ErrInvoiceAlreadySettled     invoice already at status paid
  ErrInvoiceNotPayable         invoice still in draft
  ErrInvalidSplit              mixed portions do not sum to amount

ROUNDING RULE:
  Amounts and split portions are normalized to two minor units with
  banker's rounding on entry. A mixed split must be supplied as explicit
  portions that sum exactly to the normalized amount - the processor never
  allocates fractional cents on the caller's behalf.

SEE ALSO:
  - status.go: Status derivation applied in step 3
  - ledger/balance.go: The recompute-at-commit balance read
  - store.go: CAS and cascade contracts
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// SETTLEMENT PROCESSOR
// =============================================================================

// Processor owns all invoice mutations.
type Processor struct {
	store TxStore

	// now is swappable for tests exercising due-date behavior.
	now func() time.Time
}

func NewProcessor(store TxStore) *Processor {
	return &Processor{store: store, now: time.Now}
}

// NewProcessorAt creates a processor with a fixed clock. Test hook.
func NewProcessorAt(store TxStore, now func() time.Time) *Processor {
	return &Processor{store: store, now: now}
}

// =============================================================================
// RECORD PAYMENT - The critical transactional operation
// =============================================================================

// RecordPayment applies a payment to an invoice and returns the invoice
// as persisted. See the file header for the transactional contract.
func (p *Processor) RecordPayment(ctx context.Context, org ledger.OrgID, id InvoiceID, amount decimal.Decimal, source PaymentSource) (Invoice, error) {
	amount = ledger.Normalize(amount)
	if !amount.IsPositive() {
		return Invoice{}, ledger.ErrZeroAmount
	}
	if err := validateSource(amount, source); err != nil {
		return Invoice{}, err
	}
	retainerPortion := source.retainerShare(amount)

	var settled Invoice
	err := p.store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, org, id)
		if err != nil {
			return err
		}
		if inv.Settled() {
			return ErrInvoiceAlreadySettled
		}
		if !inv.Status.Payable() {
			return fmt.Errorf("%w: status %s", ErrInvoiceNotPayable, inv.Status)
		}
		if amount.GreaterThan(inv.BalanceDue) {
			return &OverpaymentError{InvoiceID: id, Due: inv.BalanceDue, Tendered: amount}
		}

		// Recheck the fund at commit time. A balance that was sufficient
		// when the payment dialog opened may not be anymore.
		if retainerPortion.IsPositive() {
			entries, err := s.ListEntries(ctx, org, inv.CaseID)
			if err != nil {
				return err
			}
			balance := ledger.SumEntries(entries)
			if retainerPortion.GreaterThan(balance) {
				return &ledger.InsufficientBalanceError{
					CaseID:    inv.CaseID,
					Available: balance,
					Requested: retainerPortion,
				}
			}

			if _, err := s.InsertEntry(ctx, ledger.FundEntry{
				ID:        ledger.NewEntryID(),
				CaseID:    inv.CaseID,
				OrgID:     org,
				Amount:    retainerPortion.Neg(),
				Note:      fmt.Sprintf("payment applied to invoice %s", id),
				InvoiceID: inv.Ref(),
				CreatedAt: p.now().UTC(),
			}); err != nil {
				return err
			}
		}

		expected := inv.TotalPaid
		inv.TotalPaid = ledger.Normalize(inv.TotalPaid.Add(amount))
		inv.BalanceDue = ledger.Normalize(inv.Total.Sub(inv.TotalPaid))
		Refresh(&inv, p.now())

		if err := s.UpdateInvoice(ctx, org, id, InvoicePatch{
			TotalPaid:         &inv.TotalPaid,
			BalanceDue:        &inv.BalanceDue,
			Status:            &inv.Status,
			ExpectedTotalPaid: &expected,
		}); err != nil {
			return err
		}

		settled = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return settled, nil
}

func validateSource(amount decimal.Decimal, source PaymentSource) error {
	switch source.Kind {
	case SourceRetainer, SourceExternal:
		return nil
	case SourceMixed:
		if source.RetainerPortion.IsNegative() || source.ExternalPortion.IsNegative() {
			return &SplitError{Amount: amount, RetainerPortion: source.RetainerPortion, ExternalPortion: source.ExternalPortion}
		}
		if !source.RetainerPortion.Add(source.ExternalPortion).Equal(amount) {
			return &SplitError{Amount: amount, RetainerPortion: source.RetainerPortion, ExternalPortion: source.ExternalPortion}
		}
		return nil
	default:
		return fmt.Errorf("unknown payment source %q", source.Kind)
	}
}

// =============================================================================
// INVOICE LIFECYCLE - Create, send, edit, void
// =============================================================================

// CreateInvoice opens a draft invoice with nothing paid.
func (p *Processor) CreateInvoice(ctx context.Context, org ledger.OrgID, caseID ledger.CaseID, total decimal.Decimal, dueDate *time.Time) (Invoice, error) {
	total = ledger.Normalize(total)
	if total.IsNegative() {
		return Invoice{}, fmt.Errorf("invoice total must not be negative, got %s", total.StringFixed(ledger.MinorUnits))
	}
	inv := Invoice{
		ID:         NewInvoiceID(),
		CaseID:     caseID,
		OrgID:      org,
		Total:      total,
		TotalPaid:  decimal.Zero,
		BalanceDue: total,
		Status:     StatusDraft,
		DueDate:    dueDate,
		CreatedAt:  p.now().UTC(),
	}
	id, err := p.store.InsertInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	inv.ID = id
	return inv, nil
}

// MarkSent issues a draft invoice. Explicit user action; the settlement
// processor never performs this transition on its own.
func (p *Processor) MarkSent(ctx context.Context, org ledger.OrgID, id InvoiceID) (Invoice, error) {
	inv, err := p.store.GetInvoice(ctx, org, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusDraft {
		return Invoice{}, fmt.Errorf("only draft invoices can be sent, invoice %s is %s", id, inv.Status)
	}
	inv.Status = StatusSent
	Refresh(&inv, p.now()) // already past due at issue time -> unpaid
	if err := p.store.UpdateInvoice(ctx, org, id, InvoicePatch{Status: &inv.Status}); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// EditTotal changes the invoice total and re-derives balance and status.
// Rejected once payments exist: the paid figure would no longer describe
// what settled this document.
func (p *Processor) EditTotal(ctx context.Context, org ledger.OrgID, id InvoiceID, total decimal.Decimal) (Invoice, error) {
	total = ledger.Normalize(total)
	if total.IsNegative() {
		return Invoice{}, fmt.Errorf("invoice total must not be negative, got %s", total.StringFixed(ledger.MinorUnits))
	}

	var edited Invoice
	err := p.store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, org, id)
		if err != nil {
			return err
		}
		if inv.TotalPaid.IsPositive() {
			return fmt.Errorf("%w: invoice %s has %s paid", ErrInvoiceNotEditable, id, inv.TotalPaid.StringFixed(ledger.MinorUnits))
		}

		expected := inv.TotalPaid
		inv.Total = total
		inv.BalanceDue = total
		Refresh(&inv, p.now())

		if err := s.UpdateInvoice(ctx, org, id, InvoicePatch{
			Total:             &inv.Total,
			BalanceDue:        &inv.BalanceDue,
			Status:            &inv.Status,
			ExpectedTotalPaid: &expected,
		}); err != nil {
			return err
		}
		edited = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	return edited, nil
}

// SetDueDate changes or clears the due date and re-derives status.
func (p *Processor) SetDueDate(ctx context.Context, org ledger.OrgID, id InvoiceID, dueDate *time.Time) (Invoice, error) {
	inv, err := p.store.GetInvoice(ctx, org, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.DueDate = dueDate
	Refresh(&inv, p.now())
	if err := p.store.UpdateInvoice(ctx, org, id, InvoicePatch{
		DueDate: &dueDate,
		Status:  &inv.Status,
	}); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// VoidInvoice deletes an invoice together with its linked deduction
// entries, in one transaction. This is the ONLY path that removes linked
// entries; the case's retainer balance is restored by recomputation once
// the deductions are gone.
func (p *Processor) VoidInvoice(ctx context.Context, org ledger.OrgID, id InvoiceID) error {
	return p.store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, org, id)
		if err != nil {
			return err
		}
		if err := s.DeleteEntriesByInvoice(ctx, org, inv.Ref()); err != nil {
			return err
		}
		return s.DeleteInvoice(ctx, org, id)
	})
}

// =============================================================================
// READS - Status kept fresh against the clock
// =============================================================================

// GetInvoice reads an invoice, re-deriving the due-date-dependent status.
// A status change observed on read (sent past its due date -> unpaid) is
// persisted best-effort; losing that race to another writer is harmless
// because they also re-derived.
func (p *Processor) GetInvoice(ctx context.Context, org ledger.OrgID, id InvoiceID) (Invoice, error) {
	inv, err := p.store.GetInvoice(ctx, org, id)
	if err != nil {
		return Invoice{}, err
	}
	if Refresh(&inv, p.now()) {
		expected := inv.TotalPaid
		_ = p.store.UpdateInvoice(ctx, org, id, InvoicePatch{
			Status:            &inv.Status,
			ExpectedTotalPaid: &expected,
		})
	}
	return inv, nil
}

// ListInvoices reads a case's invoices with freshly derived statuses.
// Changes are not persisted here; the next mutation or GetInvoice will.
func (p *Processor) ListInvoices(ctx context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]Invoice, error) {
	invs, err := p.store.ListInvoices(ctx, org, caseID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	for i := range invs {
		Refresh(&invs[i], now)
	}
	return invs, nil
}
