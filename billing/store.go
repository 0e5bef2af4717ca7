/*
store.go - Combined persistence interface for settlement

PURPOSE:
  The settlement processor needs fund entries and invoices behind one
  boundary, because its write unit spans both: insert a deduction entry
  AND update the invoice's paid/balance/status, atomically.

INTERFACES:
  InvoiceStore: Invoice persistence, org-scoped like the ledger store
  Store:        ledger.Store + InvoiceStore
  TxStore:      Store + WithTx for the atomic settlement unit

CAS CONTRACT:
  UpdateInvoice must honor InvoicePatch.ExpectedTotalPaid: when set, the
  update fails with ErrStaleInvoiceState unless the persisted TotalPaid
  still equals it. This is how a settlement racing another client's
  settlement is detected and rejected instead of applied twice.

CASCADE CONTRACT:
  DeleteInvoice removes only the invoice row. The processor's VoidInvoice
  pairs it with ledger.Store.DeleteEntriesByInvoice inside one WithTx, so
  a linked deduction entry never outlives (or predeceases) its invoice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger/store.go: Entry persistence interface
  - settlement.go: The only writer of invoice paid fields
*/
package billing

import (
	"context"

	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// INVOICE STORE - Org-scoped invoice persistence
// =============================================================================

type InvoiceStore interface {
	// InsertInvoice persists a new invoice and returns its id. The store
	// assigns ID and CreatedAt if unset.
	InsertInvoice(ctx context.Context, inv Invoice) (InvoiceID, error)

	// GetInvoice returns a single invoice, or ErrInvoiceNotFound.
	GetInvoice(ctx context.Context, org ledger.OrgID, id InvoiceID) (Invoice, error)

	// ListInvoices returns all invoices for a case, ordered by CreatedAt.
	ListInvoices(ctx context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]Invoice, error)

	// UpdateInvoice applies a patch, honoring the ExpectedTotalPaid
	// compare-and-swap guard when set.
	UpdateInvoice(ctx context.Context, org ledger.OrgID, id InvoiceID, patch InvoicePatch) error

	// DeleteInvoice removes the invoice row only; callers cascade linked
	// entries in the same transaction.
	DeleteInvoice(ctx context.Context, org ledger.OrgID, id InvoiceID) error
}

// Store combines fund-entry and invoice persistence.
type Store interface {
	ledger.Store
	InvoiceStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
