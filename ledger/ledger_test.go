package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/billing-engine/ledger"
	"github.com/caseflow/billing-engine/ledger/store"
)

func newTestLedger() (*ledger.Ledger, *store.Memory) {
	m := store.NewMemory()
	return ledger.New(m), m
}

func seedLinkedEntry(t *testing.T, m *store.Memory, amount string, invoice ledger.InvoiceRef) ledger.EntryID {
	t.Helper()
	id, err := m.InsertEntry(context.Background(), ledger.FundEntry{
		CaseID:    testCase,
		OrgID:     testOrg,
		Amount:    amt(amount),
		InvoiceID: invoice,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// TOP-UP TESTS
// =============================================================================

func TestTopup_RecordsPositiveEntry(t *testing.T) {
	// GIVEN: An empty case fund
	// WHEN: Topping up 500.00
	// THEN: A single positive unlinked entry exists and the balance is 500.00

	ctx := context.Background()
	l, m := newTestLedger()

	id, err := l.Topup(ctx, testOrg, testCase, amt("500.00"), "initial retainer")
	require.NoError(t, err)

	entry, err := m.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, entry.IsTopup())
	assert.False(t, entry.Linked())
	assert.Equal(t, "initial retainer", entry.Note)

	balance, err := l.Aggregator().BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("500.00")))
}

func TestTopup_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, err := l.Topup(ctx, testOrg, testCase, amt("0.00"), "")
	assert.ErrorIs(t, err, ledger.ErrZeroAmount)

	_, err = l.Topup(ctx, testOrg, testCase, amt("-10.00"), "")
	assert.Error(t, err)
}

func TestTopup_NormalizesAmount(t *testing.T) {
	// Sub-cent precision is rounded to two minor units before persisting.
	ctx := context.Background()
	l, m := newTestLedger()

	id, err := l.Topup(ctx, testOrg, testCase, decimal.RequireFromString("100.005"), "")
	require.NoError(t, err)

	entry, err := m.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.Equal(t, "100.00", entry.Amount.StringFixed(2))
}

// =============================================================================
// ADJUSTMENT TESTS
// =============================================================================

func TestAdjust_NegativeWithinBalance(t *testing.T) {
	// GIVEN: A balance of 1000.00
	// WHEN: Adjusting by -300.00
	// THEN: The adjustment lands and the balance is 700.00

	ctx := context.Background()
	l, _ := newTestLedger()
	_, err := l.Topup(ctx, testOrg, testCase, amt("1000.00"), "")
	require.NoError(t, err)

	_, err = l.Adjust(ctx, testOrg, testCase, amt("-300.00"), "billing correction")
	require.NoError(t, err)

	balance, err := l.Aggregator().BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("700.00")))
}

func TestAdjust_OverdrawRejected(t *testing.T) {
	// GIVEN: A balance of 100.00
	// WHEN: Adjusting by -100.01
	// THEN: InsufficientBalanceError names the shortfall; nothing is written

	ctx := context.Background()
	l, m := newTestLedger()
	_, err := l.Topup(ctx, testOrg, testCase, amt("100.00"), "")
	require.NoError(t, err)

	_, err = l.Adjust(ctx, testOrg, testCase, amt("-100.01"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientRetainerBalance)

	var insufficientErr *ledger.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficientErr))
	assert.True(t, insufficientErr.Available.Equal(amt("100.00")))
	assert.True(t, insufficientErr.Requested.Equal(amt("100.01")))

	entries, err := m.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAdjust_ExactBalanceToZero(t *testing.T) {
	// Draining the fund to exactly zero is allowed.
	ctx := context.Background()
	l, _ := newTestLedger()
	_, err := l.Topup(ctx, testOrg, testCase, amt("250.00"), "")
	require.NoError(t, err)

	_, err = l.Adjust(ctx, testOrg, testCase, amt("-250.00"), "")
	require.NoError(t, err)

	balance, err := l.Aggregator().BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

// =============================================================================
// LINKED-ENTRY IMMUTABILITY TESTS
// =============================================================================

func TestUpdateEntry_UnlinkedEntry(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger()
	id, err := l.Topup(ctx, testOrg, testCase, amt("500.00"), "")
	require.NoError(t, err)

	newAmount := amt("750.00")
	note := "corrected wire amount"
	require.NoError(t, l.UpdateEntry(ctx, testOrg, id, ledger.EntryPatch{Amount: &newAmount, Note: &note}))

	entry, err := m.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(amt("750.00")))
	assert.Equal(t, "corrected wire amount", entry.Note)
}

func TestUpdateEntry_LinkedEntryRejected(t *testing.T) {
	// GIVEN: An entry that settles invoice inv-7
	// WHEN: Trying to patch its amount
	// THEN: LinkedEntryError names the pinning invoice; the entry is untouched

	ctx := context.Background()
	l, m := newTestLedger()
	id := seedLinkedEntry(t, m, "-400.00", "inv-7")

	newAmount := amt("-1.00")
	err := l.UpdateEntry(ctx, testOrg, id, ledger.EntryPatch{Amount: &newAmount})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEntryLinkedToInvoice)

	var linkedErr *ledger.LinkedEntryError
	require.True(t, errors.As(err, &linkedErr))
	assert.Equal(t, ledger.InvoiceRef("inv-7"), linkedErr.InvoiceID)

	entry, err := m.GetEntry(ctx, testOrg, id)
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(amt("-400.00")))
}

func TestDeleteEntry_LinkedEntryRejected(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger()
	id := seedLinkedEntry(t, m, "-400.00", "inv-7")

	err := l.DeleteEntry(ctx, testOrg, id)
	assert.ErrorIs(t, err, ledger.ErrEntryLinkedToInvoice)

	_, err = m.GetEntry(ctx, testOrg, id)
	assert.NoError(t, err, "linked entry must survive the delete attempt")
}

func TestDeleteEntry_UnlinkedEntry(t *testing.T) {
	ctx := context.Background()
	l, m := newTestLedger()
	id, err := l.Topup(ctx, testOrg, testCase, amt("500.00"), "")
	require.NoError(t, err)

	require.NoError(t, l.DeleteEntry(ctx, testOrg, id))

	_, err = m.GetEntry(ctx, testOrg, id)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestDeleteEntry_MissingEntry(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	err := l.DeleteEntry(ctx, testOrg, "ent-missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
	assert.True(t, ledger.IsNotFound(err))
}
