/*
store.go - Persistence interface for fund entries

PURPOSE:
  Defines the boundary between the ledger engine and the database. The
  concrete store (SQLite in production, memory in tests) is an external
  collaborator; the engine only sees these interfaces.

KEY INTERFACES:
  Store: Entry persistence (insert, list, get, update, delete)

TENANCY CONTRACT:
  Every method takes an explicit OrgID and the store scopes every query by
  it. A read or write against another organization's data behaves as
  not-found - rejection happens in the store, not in callers.

IMMUTABILITY CONTRACT:
  UpdateEntry and DeleteEntry MUST refuse entries whose InvoiceID is set
  (return ErrEntryLinkedToInvoice). The Ledger wrapper checks this too, but
  the store is the last line of defense: client discipline is not trusted.
  The only path that removes linked entries is DeleteEntriesByInvoice,
  which exists for cascading invoice deletion and must run inside the same
  transaction as the invoice removal.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (shared with billing)
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level write path using Store
  - balance.go: Aggregation over ListEntries
*/
package ledger

import "context"

// =============================================================================
// STORE - Entry persistence, org-scoped
// =============================================================================

// Store handles persistence of fund entries. All methods are scoped by
// organization; cross-tenant access behaves as not-found.
type Store interface {
	// InsertEntry persists a new entry and returns its id. The store
	// assigns ID and CreatedAt if unset.
	InsertEntry(ctx context.Context, entry FundEntry) (EntryID, error)

	// ListEntries returns all entries for a case, ordered by CreatedAt.
	// Callers must not read meaning into ordering beyond CreatedAt.
	ListEntries(ctx context.Context, org OrgID, caseID CaseID) ([]FundEntry, error)

	// GetEntry returns a single entry, or ErrEntryNotFound.
	GetEntry(ctx context.Context, org OrgID, id EntryID) (FundEntry, error)

	// UpdateEntry applies a patch to an UNLINKED entry.
	// Returns ErrEntryLinkedToInvoice for linked entries.
	UpdateEntry(ctx context.Context, org OrgID, id EntryID, patch EntryPatch) error

	// DeleteEntry removes an UNLINKED entry.
	// Returns ErrEntryLinkedToInvoice for linked entries.
	DeleteEntry(ctx context.Context, org OrgID, id EntryID) error

	// DeleteEntriesByInvoice removes all entries linked to an invoice.
	// Only valid as part of deleting the invoice itself, inside the same
	// transaction.
	DeleteEntriesByInvoice(ctx context.Context, org OrgID, invoice InvoiceRef) error
}

// Transactional composition lives one level up: the billing package
// combines this interface with invoice persistence and a WithTx wrapper,
// because the only multi-write unit in the system is "insert deduction
// entry + update invoice" (see billing/store.go).
