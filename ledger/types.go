/*
Package ledger provides the core retainer-fund ledger engine.

PURPOSE:
  This package contains the tenant-scoped types and algorithms for managing
  a case's pre-paid retainer fund: signed monetary entries, balance
  aggregation, and the grace-period deletion lifecycle. It knows nothing
  about invoices - the billing package layers invoice settlement on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - FundEntry: One signed monetary record attached to a case
  - CaseID/OrgID/EntryID: Type-safe identifiers
  - Money helpers: normalization and tolerance for decimal amounts

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors.
     Every amount is normalized to two minor units (cents) with banker's
     rounding before it is persisted or compared.
  2. Recompute, don't cache: The retainer balance is always derived from
     the full entry set. There is no running total to drift.
  3. Explicit tenancy: OrgID is a parameter on every store call, never
     ambient session state.
  4. Linked entries are immutable: An entry created to settle an invoice
     carries that invoice's id and can never be edited or deleted on its
     own (see ledger.go).

USAGE:
  entry := ledger.FundEntry{
      CaseID: "case-42",
      OrgID:  "org-1",
      Amount: ledger.MustParseAmount("1500.00"),
      Note:   "initial retainer",
  }

SEE ALSO:
  - balance.go: Balance aggregation from entries
  - ledger.go: Entry write path with immutability guard
  - store.go: Persistence interfaces
  - deferred.go: Grace-period deletion lifecycle
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID string
type OrgID string
type EntryID string

// InvoiceRef is an opaque back-reference to the invoice an entry settles.
// The ledger package does not interpret it; it only enforces that an entry
// carrying one is immutable.
type InvoiceRef string

// =============================================================================
// MONEY - Two-minor-unit decimal amounts
// =============================================================================

// MinorUnits is the fixed precision for all monetary amounts (cents).
const MinorUnits = 2

// Normalize rounds an amount to two minor units using banker's rounding
// (round-half-even). Every amount must pass through here before being
// persisted or compared against an invariant.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MinorUnits)
}

// MinorUnitTolerance is the largest difference two amounts may show and
// still be considered reconciled: one cent.
var MinorUnitTolerance = decimal.New(1, -MinorUnits)

// WithinMinorUnit reports whether a and b differ by at most one minor unit.
// Invariant checks use this, never floating-point comparison.
func WithinMinorUnit(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(MinorUnitTolerance)
}

// MustParseAmount parses a decimal string, normalized. Returns zero on
// malformed input; intended for literals in tests and seed data.
func MustParseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return Normalize(d)
}

// =============================================================================
// FUND ENTRY - Atomic unit of the retainer balance
// =============================================================================

// FundEntry is one signed monetary record attached to a case.
//
// Amount sign convention:
//   positive = top-up (adds to the retainer fund)
//   negative = deduction (draws the fund down)
//
// InvoiceID is non-empty only when the entry was created by the settlement
// processor as a deduction applied to a specific invoice. Such an entry is
// immutable and non-deletable through normal user action: it exists to keep
// the case balance and the invoice's paid amount mutually consistent.
type FundEntry struct {
	ID        EntryID
	CaseID    CaseID
	OrgID     OrgID
	Amount    decimal.Decimal
	Note      string
	InvoiceID InvoiceRef // empty = unlinked
	CreatedAt time.Time
}

// Linked reports whether the entry settles an invoice.
func (e FundEntry) Linked() bool { return e.InvoiceID != "" }

// IsTopup reports whether the entry adds to the fund.
func (e FundEntry) IsTopup() bool { return e.Amount.IsPositive() }

// EntryPatch describes an update to an unlinked entry. Nil fields are
// left unchanged. Linked entries reject all patches.
type EntryPatch struct {
	Amount *decimal.Decimal
	Note   *string
}
