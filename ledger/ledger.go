/*
ledger.go - Fund entry write path with immutability enforcement

PURPOSE:
  Wraps the Store's entry mutations with the rules the raw store cannot
  express on its own:

  1. Amounts are normalized to two minor units before persisting.
  2. A manual deduction (negative unlinked entry) must not overdraw the
     case's retainer balance, re-read at commit time.
  3. Entries linked to an invoice are immutable and non-deletable through
     this path. They change only as a cascading consequence of deleting
     the invoice (billing package).

WHY A WRAPPER?
  The store enforces the linked-entry rule defensively at the SQL layer,
  but a direct store error carries no domain context. The wrapper checks
  first and returns a LinkedEntryError naming the pinning invoice, so the
  operator learns WHY the entry cannot be touched.

EXAMPLE:
  l := ledger.New(store)
  id, err := l.Topup(ctx, org, caseID, ledger.MustParseAmount("500.00"), "retainer top-up")

SEE ALSO:
  - store.go: Persistence interface
  - balance.go: Aggregation used for overdraw checks
  - deferred.go: Grace-period deletion built on Ledger.DeleteEntry
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Validated entry mutations
// =============================================================================

// Ledger is the write path for fund entries.
type Ledger struct {
	store Store
	agg   *BalanceAggregator
}

func New(store Store) *Ledger {
	return &Ledger{store: store, agg: NewBalanceAggregator(store)}
}

// Store exposes the underlying store for read-only collaborators.
func (l *Ledger) Store() Store { return l.store }

// Aggregator exposes the balance aggregator bound to the same store.
func (l *Ledger) Aggregator() *BalanceAggregator { return l.agg }

// Topup records a positive unlinked entry.
func (l *Ledger) Topup(ctx context.Context, org OrgID, caseID CaseID, amount decimal.Decimal, note string) (EntryID, error) {
	amount = Normalize(amount)
	if amount.IsZero() {
		return "", ErrZeroAmount
	}
	if amount.IsNegative() {
		return "", fmt.Errorf("top-up amount must be positive, got %s", amount.StringFixed(MinorUnits))
	}
	return l.store.InsertEntry(ctx, FundEntry{
		ID:        NewEntryID(),
		CaseID:    caseID,
		OrgID:     org,
		Amount:    amount,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
}

// Adjust records a signed unlinked entry (manual correction). A negative
// adjustment is validated against the balance recomputed at commit time,
// so a concurrent deduction is caught here rather than producing a
// negative fund.
func (l *Ledger) Adjust(ctx context.Context, org OrgID, caseID CaseID, amount decimal.Decimal, note string) (EntryID, error) {
	amount = Normalize(amount)
	if amount.IsZero() {
		return "", ErrZeroAmount
	}
	if amount.IsNegative() {
		balance, err := l.agg.BalanceOf(ctx, org, caseID)
		if err != nil {
			return "", err
		}
		if amount.Neg().GreaterThan(balance) {
			return "", &InsufficientBalanceError{
				CaseID:    caseID,
				Available: balance,
				Requested: amount.Neg(),
			}
		}
	}
	return l.store.InsertEntry(ctx, FundEntry{
		ID:        NewEntryID(),
		CaseID:    caseID,
		OrgID:     org,
		Amount:    amount,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
}

// UpdateEntry patches an unlinked entry. A patched amount is normalized.
// Returns LinkedEntryError when the entry settles an invoice.
func (l *Ledger) UpdateEntry(ctx context.Context, org OrgID, id EntryID, patch EntryPatch) error {
	entry, err := l.store.GetEntry(ctx, org, id)
	if err != nil {
		return err
	}
	if entry.Linked() {
		return &LinkedEntryError{EntryID: id, InvoiceID: entry.InvoiceID}
	}
	if patch.Amount != nil {
		normalized := Normalize(*patch.Amount)
		if normalized.IsZero() {
			return ErrZeroAmount
		}
		patch.Amount = &normalized
	}
	return l.store.UpdateEntry(ctx, org, id, patch)
}

// DeleteEntry removes an unlinked entry immediately. The user-facing path
// goes through the deferred deletion layer; this is the commit it issues
// on grace-window expiry.
// Returns LinkedEntryError when the entry settles an invoice.
func (l *Ledger) DeleteEntry(ctx context.Context, org OrgID, id EntryID) error {
	entry, err := l.store.GetEntry(ctx, org, id)
	if err != nil {
		return err
	}
	if entry.Linked() {
		return &LinkedEntryError{EntryID: id, InvoiceID: entry.InvoiceID}
	}
	return l.store.DeleteEntry(ctx, org, id)
}

// NewEntryID mints an opaque entry identifier.
func NewEntryID() EntryID {
	return EntryID("ent-" + uuid.NewString())
}
