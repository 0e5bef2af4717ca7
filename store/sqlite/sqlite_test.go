package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testOrg  = ledger.OrgID("org-1")
	otherOrg = ledger.OrgID("org-2")
	testCase = ledger.CaseID("case-1")
)

func amt(s string) decimal.Decimal {
	return ledger.MustParseAmount(s)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertEntry(t *testing.T, s *Store, amount string, invoice ledger.InvoiceRef, at time.Time) ledger.EntryID {
	t.Helper()
	id, err := s.InsertEntry(context.Background(), ledger.FundEntry{
		CaseID:    testCase,
		OrgID:     testOrg,
		Amount:    amt(amount),
		InvoiceID: invoice,
		CreatedAt: at,
	})
	require.NoError(t, err)
	return id
}

func insertInvoice(t *testing.T, s *Store, total, paid string, status billing.Status) billing.InvoiceID {
	t.Helper()
	id, err := s.InsertInvoice(context.Background(), billing.Invoice{
		CaseID:     testCase,
		OrgID:      testOrg,
		Total:      amt(total),
		TotalPaid:  amt(paid),
		BalanceDue: amt(total).Sub(amt(paid)),
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// FUND ENTRY TESTS
// =============================================================================

func TestEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

	id, err := s.InsertEntry(ctx, ledger.FundEntry{
		CaseID:    testCase,
		OrgID:     testOrg,
		Amount:    amt("1234.56"),
		Note:      "retainer top-up",
		CreatedAt: at,
	})
	require.NoError(t, err)

	got, err := s.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.Amount.Equal(amt("1234.56")))
	assert.Equal(t, "retainer top-up", got.Note)
	assert.Empty(t, got.InvoiceID)
	assert.True(t, got.CreatedAt.Equal(at))
}

func TestListEntries_OrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	// Inserted out of order.
	insertEntry(t, s, "300.00", "", base.Add(2*time.Hour))
	insertEntry(t, s, "100.00", "", base)
	insertEntry(t, s, "200.00", "", base.Add(time.Hour))

	entries, err := s.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Amount.Equal(amt("100.00")))
	assert.True(t, entries[1].Amount.Equal(amt("200.00")))
	assert.True(t, entries[2].Amount.Equal(amt("300.00")))
	assert.True(t, ledger.SumEntries(entries).Equal(amt("600.00")))
}

func TestUpdateEntry_Unlinked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insertEntry(t, s, "100.00", "", time.Now().UTC())

	newAmount := amt("150.00")
	note := "corrected"
	require.NoError(t, s.UpdateEntry(ctx, testOrg, id, ledger.EntryPatch{Amount: &newAmount, Note: &note}))

	got, err := s.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amt("150.00")))
	assert.Equal(t, "corrected", got.Note)
}

func TestUpdateEntry_LinkedRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insertEntry(t, s, "-400.00", "inv-1", time.Now().UTC())

	newAmount := amt("-1.00")
	err := s.UpdateEntry(ctx, testOrg, id, ledger.EntryPatch{Amount: &newAmount})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEntryLinkedToInvoice)

	got, err := s.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amt("-400.00")))
}

func TestDeleteEntry_LinkedRejected(t *testing.T) {
	// The DELETE statement only matches unlinked rows; the store then
	// reports which invoice pins the entry.
	ctx := context.Background()
	s := newTestStore(t)
	id := insertEntry(t, s, "-400.00", "inv-1", time.Now().UTC())

	err := s.DeleteEntry(ctx, testOrg, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEntryLinkedToInvoice)

	var linkedErr *ledger.LinkedEntryError
	require.True(t, errors.As(err, &linkedErr))
	assert.Equal(t, ledger.InvoiceRef("inv-1"), linkedErr.InvoiceID)

	_, err = s.GetEntry(ctx, testOrg, id)
	assert.NoError(t, err)
}

func TestDeleteEntry_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteEntry(context.Background(), testOrg, "ent-missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestDeleteEntriesByInvoice_RemovesOnlyLinkedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	insertEntry(t, s, "1000.00", "", now)
	insertEntry(t, s, "-400.00", "inv-1", now.Add(time.Minute))
	insertEntry(t, s, "-100.00", "inv-2", now.Add(2*time.Minute))

	require.NoError(t, s.DeleteEntriesByInvoice(ctx, testOrg, "inv-1"))

	entries, err := s.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, ledger.SumEntries(entries).Equal(amt("900.00")))
}

// =============================================================================
// INVOICE TESTS
// =============================================================================

func TestInvoiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	due := time.Date(2026, time.July, 1, 23, 59, 59, 0, time.UTC)

	id, err := s.InsertInvoice(ctx, billing.Invoice{
		CaseID:     testCase,
		OrgID:      testOrg,
		Total:      amt("1200.00"),
		TotalPaid:  decimal.Zero,
		BalanceDue: amt("1200.00"),
		Status:     billing.StatusDraft,
		DueDate:    &due,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := s.GetInvoice(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(amt("1200.00")))
	assert.True(t, got.TotalPaid.IsZero())
	assert.Equal(t, billing.StatusDraft, got.Status)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	assert.True(t, got.Reconciled())
}

func TestInvoiceRoundTrip_NoDueDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insertInvoice(t, s, "500.00", "0.00", billing.StatusSent)

	got, err := s.GetInvoice(ctx, testOrg, id)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestUpdateInvoice_CASMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := insertInvoice(t, s, "500.00", "0.00", billing.StatusSent)

	expected := amt("0.00")
	paid := amt("200.00")
	balance := amt("300.00")
	status := billing.StatusPartial
	require.NoError(t, s.UpdateInvoice(ctx, testOrg, id, billing.InvoicePatch{
		TotalPaid:         &paid,
		BalanceDue:        &balance,
		Status:            &status,
		ExpectedTotalPaid: &expected,
	}))

	got, err := s.GetInvoice(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.Equal(amt("200.00")))
	assert.Equal(t, billing.StatusPartial, got.Status)
}

func TestUpdateInvoice_CASStale(t *testing.T) {
	// GIVEN: An invoice whose paid figure moved since it was read
	// WHEN: A patch guarded by the old figure is applied
	// THEN: ErrStaleInvoiceState, and the row is untouched

	ctx := context.Background()
	s := newTestStore(t)
	id := insertInvoice(t, s, "500.00", "100.00", billing.StatusPartial)

	stale := amt("0.00")
	paid := amt("200.00")
	err := s.UpdateInvoice(ctx, testOrg, id, billing.InvoicePatch{
		TotalPaid:         &paid,
		ExpectedTotalPaid: &stale,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrStaleInvoiceState)

	got, err := s.GetInvoice(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.Equal(amt("100.00")))
}

func TestUpdateInvoice_ClearDueDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	due := time.Now().UTC().Add(72 * time.Hour)
	id, err := s.InsertInvoice(ctx, billing.Invoice{
		CaseID: testCase, OrgID: testOrg,
		Total: amt("500.00"), TotalPaid: decimal.Zero, BalanceDue: amt("500.00"),
		Status: billing.StatusSent, DueDate: &due, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	var cleared *time.Time
	require.NoError(t, s.UpdateInvoice(ctx, testOrg, id, billing.InvoicePatch{DueDate: &cleared}))

	got, err := s.GetInvoice(ctx, testOrg, id)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestDeleteInvoice_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteInvoice(context.Background(), testOrg, "inv-missing")
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

// =============================================================================
// TENANCY TESTS
// =============================================================================

func TestCrossOrgAccess_BehavesAsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	entryID := insertEntry(t, s, "1000.00", "", time.Now().UTC())
	invID := insertInvoice(t, s, "500.00", "0.00", billing.StatusSent)

	_, err := s.GetEntry(ctx, otherOrg, entryID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	err = s.DeleteEntry(ctx, otherOrg, entryID)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	_, err = s.GetInvoice(ctx, otherOrg, invID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	err = s.DeleteInvoice(ctx, otherOrg, invID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	entries, err := s.ListEntries(ctx, otherOrg, testCase)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx billing.Store) error {
		if _, err := tx.InsertEntry(ctx, ledger.FundEntry{
			CaseID: testCase, OrgID: testOrg, Amount: amt("100.00"),
		}); err != nil {
			return err
		}
		if _, err := tx.InsertInvoice(ctx, billing.Invoice{
			CaseID: testCase, OrgID: testOrg,
			Total: amt("100.00"), TotalPaid: decimal.Zero, BalanceDue: amt("100.00"),
			Status: billing.StatusDraft,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := s.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.Empty(t, entries)

	invs, err := s.ListInvoices(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.Empty(t, invs)
}

func TestWithTx_CommitOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTx(ctx, func(tx billing.Store) error {
		_, err := tx.InsertEntry(ctx, ledger.FundEntry{
			CaseID: testCase, OrgID: testOrg, Amount: amt("100.00"),
		})
		return err
	})
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// INTEGRATION - Settlement over SQLite
// =============================================================================

func TestSettlementOverSQLite(t *testing.T) {
	// The full retainer-settlement flow against the production store:
	// top-ups, invoice, payment, void, balance restored.

	ctx := context.Background()
	s := newTestStore(t)
	l := ledger.New(s)
	proc := billing.NewProcessor(s)

	_, err := l.Topup(ctx, testOrg, testCase, amt("1000.00"), "")
	require.NoError(t, err)
	_, err = l.Topup(ctx, testOrg, testCase, amt("500.00"), "")
	require.NoError(t, err)

	inv, err := proc.CreateInvoice(ctx, testOrg, testCase, amt("1200.00"), nil)
	require.NoError(t, err)
	inv, err = proc.MarkSent(ctx, testOrg, inv.ID)
	require.NoError(t, err)

	settled, err := proc.RecordPayment(ctx, testOrg, inv.ID, amt("1200.00"), billing.Retainer())
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, settled.Status)

	balance, err := l.Aggregator().BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("300.00")))

	require.NoError(t, proc.VoidInvoice(ctx, testOrg, inv.ID))

	balance, err = l.Aggregator().BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("1500.00")))
}
