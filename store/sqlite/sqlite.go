/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and billing.InvoiceStore (together,
  billing.TxStore) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  fund_entries: Signed retainer-fund records per case
  invoices:     Billing documents with maintained paid/balance/status

TENANCY:
  Every query carries org_id in its WHERE clause. A read or write against
  another organization's rows affects nothing and reports not-found; the
  store, not the caller, is where cross-tenant access dies.

IMMUTABILITY ENFORCEMENT (storage-level, not client discipline):
  - A BEFORE UPDATE trigger aborts any update of an invoice-linked entry.
  - DeleteEntry's statement matches only invoice_id IS NULL rows, so a
    linked entry cannot be deleted by id even by buggy caller code.
  - DeleteEntriesByInvoice is the single statement allowed to remove
    linked rows, used inside the invoice-void transaction.

COMPARE-AND-SWAP:
  UpdateInvoice with an expected TotalPaid adds "AND total_paid = ?" to
  the UPDATE. Zero rows affected with the invoice present means another
  client settled concurrently: ErrStaleInvoiceState.

AMOUNTS:
  Stored as exact decimal strings (two minor units), parsed back with
  shopspring/decimal. No floating point touches a monetary value.

WAL MODE:
  Opened with WAL and foreign keys on: multiple readers don't block, one
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil { log.Fatal(err) }
  defer store.Close()

SEE ALSO:
  - ledger/store.go, billing/store.go: Interface contracts
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	conn
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, conn: conn{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fund_entries (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		invoice_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fund_entries_org_case
		ON fund_entries(org_id, case_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_fund_entries_invoice
		ON fund_entries(invoice_id) WHERE invoice_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		total TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_org_case
		ON invoices(org_id, case_id, created_at);

	-- CRITICAL: an entry that settles an invoice is immutable. The engine
	-- checks this too, but the database is the last line of defense.
	CREATE TRIGGER IF NOT EXISTS trg_fund_entries_linked_immutable
	BEFORE UPDATE ON fund_entries
	WHEN OLD.invoice_id IS NOT NULL
	BEGIN
		SELECT RAISE(ABORT, 'linked fund entry is immutable');
	END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}

	if err := fn(conn{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// conn implements billing.Store over either the root connection or a
// transaction handle.
type conn struct {
	q dbtx
}

// =============================================================================
// FUND ENTRIES (ledger.Store)
// =============================================================================

func (c conn) InsertEntry(ctx context.Context, entry ledger.FundEntry) (ledger.EntryID, error) {
	if entry.ID == "" {
		entry.ID = ledger.EntryID("ent-" + uuid.NewString())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var invoiceID any
	if entry.InvoiceID != "" {
		invoiceID = string(entry.InvoiceID)
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO fund_entries (id, org_id, case_id, amount, note, invoice_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(entry.ID), string(entry.OrgID), string(entry.CaseID),
		ledger.Normalize(entry.Amount).StringFixed(ledger.MinorUnits),
		entry.Note, invoiceID, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", storeErr(err)
	}
	return entry.ID, nil
}

func (c conn) ListEntries(ctx context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]ledger.FundEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, org_id, case_id, amount, note, invoice_id, created_at
		FROM fund_entries
		WHERE org_id = ? AND case_id = ?
		ORDER BY created_at, id`,
		string(org), string(caseID),
	)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var entries []ledger.FundEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, storeErrOrNil(rows.Err())
}

func (c conn) GetEntry(ctx context.Context, org ledger.OrgID, id ledger.EntryID) (ledger.FundEntry, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, org_id, case_id, amount, note, invoice_id, created_at
		FROM fund_entries
		WHERE id = ? AND org_id = ?`,
		string(id), string(org),
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return ledger.FundEntry{}, ledger.ErrEntryNotFound
	}
	return e, err
}

func (c conn) UpdateEntry(ctx context.Context, org ledger.OrgID, id ledger.EntryID, patch ledger.EntryPatch) error {
	entry, err := c.GetEntry(ctx, org, id)
	if err != nil {
		return err
	}
	if entry.Linked() {
		return &ledger.LinkedEntryError{EntryID: id, InvoiceID: entry.InvoiceID}
	}

	var sets []string
	var args []any
	if patch.Amount != nil {
		sets = append(sets, "amount = ?")
		args = append(args, ledger.Normalize(*patch.Amount).StringFixed(ledger.MinorUnits))
	}
	if patch.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *patch.Note)
	}
	if len(sets) == 0 {
		return nil
	}

	// invoice_id IS NULL repeats the guard inside the statement itself;
	// the update trigger aborts anything that slips past.
	args = append(args, string(id), string(org))
	_, err = c.q.ExecContext(ctx,
		"UPDATE fund_entries SET "+strings.Join(sets, ", ")+
			" WHERE id = ? AND org_id = ? AND invoice_id IS NULL",
		args...,
	)
	return storeErrOrNil(err)
}

func (c conn) DeleteEntry(ctx context.Context, org ledger.OrgID, id ledger.EntryID) error {
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM fund_entries
		WHERE id = ? AND org_id = ? AND invoice_id IS NULL`,
		string(id), string(org),
	)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		// Distinguish "missing" from "present but linked".
		entry, err := c.GetEntry(ctx, org, id)
		if err != nil {
			return err
		}
		return &ledger.LinkedEntryError{EntryID: id, InvoiceID: entry.InvoiceID}
	}
	return nil
}

func (c conn) DeleteEntriesByInvoice(ctx context.Context, org ledger.OrgID, invoice ledger.InvoiceRef) error {
	_, err := c.q.ExecContext(ctx, `
		DELETE FROM fund_entries
		WHERE org_id = ? AND invoice_id = ?`,
		string(org), string(invoice),
	)
	return storeErrOrNil(err)
}

// =============================================================================
// INVOICES (billing.InvoiceStore)
// =============================================================================

func (c conn) InsertInvoice(ctx context.Context, inv billing.Invoice) (billing.InvoiceID, error) {
	if inv.ID == "" {
		inv.ID = billing.InvoiceID("inv-" + uuid.NewString())
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	var due any
	if inv.DueDate != nil {
		due = inv.DueDate.UTC().Format(time.RFC3339Nano)
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO invoices (id, org_id, case_id, total, total_paid, balance_due, status, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), string(inv.OrgID), string(inv.CaseID),
		ledger.Normalize(inv.Total).StringFixed(ledger.MinorUnits),
		ledger.Normalize(inv.TotalPaid).StringFixed(ledger.MinorUnits),
		ledger.Normalize(inv.BalanceDue).StringFixed(ledger.MinorUnits),
		string(inv.Status), due, inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", storeErr(err)
	}
	return inv.ID, nil
}

func (c conn) GetInvoice(ctx context.Context, org ledger.OrgID, id billing.InvoiceID) (billing.Invoice, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, org_id, case_id, total, total_paid, balance_due, status, due_date, created_at
		FROM invoices
		WHERE id = ? AND org_id = ?`,
		string(id), string(org),
	)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, err
}

func (c conn) ListInvoices(ctx context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]billing.Invoice, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, org_id, case_id, total, total_paid, balance_due, status, due_date, created_at
		FROM invoices
		WHERE org_id = ? AND case_id = ?
		ORDER BY created_at, id`,
		string(org), string(caseID),
	)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var invs []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, storeErrOrNil(rows.Err())
}

func (c conn) UpdateInvoice(ctx context.Context, org ledger.OrgID, id billing.InvoiceID, patch billing.InvoicePatch) error {
	var sets []string
	var args []any
	if patch.Total != nil {
		sets = append(sets, "total = ?")
		args = append(args, ledger.Normalize(*patch.Total).StringFixed(ledger.MinorUnits))
	}
	if patch.TotalPaid != nil {
		sets = append(sets, "total_paid = ?")
		args = append(args, ledger.Normalize(*patch.TotalPaid).StringFixed(ledger.MinorUnits))
	}
	if patch.BalanceDue != nil {
		sets = append(sets, "balance_due = ?")
		args = append(args, ledger.Normalize(*patch.BalanceDue).StringFixed(ledger.MinorUnits))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.DueDate != nil {
		sets = append(sets, "due_date = ?")
		if *patch.DueDate != nil {
			args = append(args, (*patch.DueDate).UTC().Format(time.RFC3339Nano))
		} else {
			args = append(args, nil)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE invoices SET " + strings.Join(sets, ", ") + " WHERE id = ? AND org_id = ?"
	args = append(args, string(id), string(org))
	if patch.ExpectedTotalPaid != nil {
		// Compare-and-swap on the paid figure read at the start of the
		// settlement. Stored amounts are always normalized fixed-point
		// strings, so string equality is exact numeric equality.
		query += " AND total_paid = ?"
		args = append(args, ledger.Normalize(*patch.ExpectedTotalPaid).StringFixed(ledger.MinorUnits))
	}

	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		if _, err := c.GetInvoice(ctx, org, id); err != nil {
			return err
		}
		return billing.ErrStaleInvoiceState
	}
	return nil
}

func (c conn) DeleteInvoice(ctx context.Context, org ledger.OrgID, id billing.InvoiceID) error {
	res, err := c.q.ExecContext(ctx,
		`DELETE FROM invoices WHERE id = ? AND org_id = ?`,
		string(id), string(org),
	)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.FundEntry, error) {
	var (
		e                 ledger.FundEntry
		id, org, caseID   string
		amount, createdAt string
		invoiceID         sql.NullString
	)
	if err := row.Scan(&id, &org, &caseID, &amount, &e.Note, &invoiceID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return ledger.FundEntry{}, err
		}
		return ledger.FundEntry{}, storeErr(err)
	}
	e.ID = ledger.EntryID(id)
	e.OrgID = ledger.OrgID(org)
	e.CaseID = ledger.CaseID(caseID)

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.FundEntry{}, fmt.Errorf("corrupt amount for entry %s: %w", id, err)
	}
	e.Amount = d

	if invoiceID.Valid {
		e.InvoiceID = ledger.InvoiceRef(invoiceID.String)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return ledger.FundEntry{}, fmt.Errorf("corrupt created_at for entry %s: %w", id, err)
	}
	e.CreatedAt = t
	return e, nil
}

func scanInvoice(row scanner) (billing.Invoice, error) {
	var (
		inv               billing.Invoice
		id, org, caseID   string
		total, paid, due  string
		status, createdAt string
		dueDate           sql.NullString
	)
	if err := row.Scan(&id, &org, &caseID, &total, &paid, &due, &status, &dueDate, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return billing.Invoice{}, err
		}
		return billing.Invoice{}, storeErr(err)
	}
	inv.ID = billing.InvoiceID(id)
	inv.OrgID = ledger.OrgID(org)
	inv.CaseID = ledger.CaseID(caseID)
	inv.Status = billing.Status(status)

	var err error
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return billing.Invoice{}, fmt.Errorf("corrupt total for invoice %s: %w", id, err)
	}
	if inv.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return billing.Invoice{}, fmt.Errorf("corrupt total_paid for invoice %s: %w", id, err)
	}
	if inv.BalanceDue, err = decimal.NewFromString(due); err != nil {
		return billing.Invoice{}, fmt.Errorf("corrupt balance_due for invoice %s: %w", id, err)
	}

	if dueDate.Valid {
		t, err := time.Parse(time.RFC3339Nano, dueDate.String)
		if err != nil {
			return billing.Invoice{}, fmt.Errorf("corrupt due_date for invoice %s: %w", id, err)
		}
		inv.DueDate = &t
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("corrupt created_at for invoice %s: %w", id, err)
	}
	inv.CreatedAt = t
	return inv, nil
}

// =============================================================================
// ERROR WRAPPING
// =============================================================================

// storeErr tags database failures so callers (notably the deferred
// deletion layer) can classify them as ErrStoreUnavailable.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
}

func storeErrOrNil(err error) error {
	if err == nil {
		return nil
	}
	return storeErr(err)
}
