package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow/billing-engine/ledger"
	"github.com/caseflow/billing-engine/ledger/store"
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

func seedEntry(t *testing.T, m *store.Memory, caseID ledger.CaseID, amount string, at time.Time) ledger.EntryID {
	t.Helper()
	id, err := m.InsertEntry(context.Background(), ledger.FundEntry{
		CaseID:    caseID,
		OrgID:     testOrg,
		Amount:    amt(amount),
		CreatedAt: at,
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// BALANCE RECOMPUTATION TESTS
// =============================================================================

func TestBalanceOf_SumsAllEntries(t *testing.T) {
	// GIVEN: Entries [+1000, +500, -300]
	// WHEN: Computing the balance
	// THEN: Balance is the exact sum, 1200.00

	m := store.NewMemory()
	now := time.Now().UTC()
	seedEntry(t, m, testCase, "1000.00", now)
	seedEntry(t, m, testCase, "500.00", now.Add(time.Minute))
	seedEntry(t, m, testCase, "-300.00", now.Add(2*time.Minute))

	agg := ledger.NewBalanceAggregator(m)
	balance, err := agg.BalanceOf(context.Background(), testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("1200.00")), "got %s", balance)
}

func TestBalanceOf_EmptyCase_IsZero(t *testing.T) {
	m := store.NewMemory()
	agg := ledger.NewBalanceAggregator(m)

	balance, err := agg.BalanceOf(context.Background(), testOrg, "case-empty")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestBalanceOf_RecomputedAfterMutation(t *testing.T) {
	// GIVEN: A balance already read once
	// WHEN: An entry is deleted and another edited
	// THEN: The next read reflects the mutations - nothing is cached

	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now().UTC()
	id1 := seedEntry(t, m, testCase, "1000.00", now)
	id2 := seedEntry(t, m, testCase, "500.00", now.Add(time.Minute))

	agg := ledger.NewBalanceAggregator(m)
	balance, err := agg.BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	require.True(t, balance.Equal(amt("1500.00")))

	require.NoError(t, m.DeleteEntry(ctx, testOrg, id1))
	newAmount := amt("250.00")
	require.NoError(t, m.UpdateEntry(ctx, testOrg, id2, ledger.EntryPatch{Amount: &newAmount}))

	balance, err = agg.BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(amt("250.00")), "got %s", balance)
}

func TestBalanceOf_MatchesEntrySum_Property(t *testing.T) {
	// Invariant: balanceOf(C) == sum(entry.amount for entry in listEntries(C))

	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now().UTC()
	for i, a := range []string{"100.10", "-33.33", "0.01", "999.99", "-66.67"} {
		seedEntry(t, m, testCase, a, now.Add(time.Duration(i)*time.Second))
	}

	agg := ledger.NewBalanceAggregator(m)
	balance, err := agg.BalanceOf(ctx, testOrg, testCase)
	require.NoError(t, err)

	entries, err := m.ListEntries(ctx, testOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.SumEntries(entries)))
}

// =============================================================================
// LAST TOP-UP TESTS
// =============================================================================

func TestLastTopupOf_IgnoresDeductions(t *testing.T) {
	// GIVEN: A top-up, then a later deduction
	// WHEN: Reading the last top-up timestamp
	// THEN: It is the top-up's time; the deduction doesn't count

	m := store.NewMemory()
	topupAt := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	seedEntry(t, m, testCase, "1000.00", topupAt)
	seedEntry(t, m, testCase, "-200.00", topupAt.Add(48*time.Hour))

	agg := ledger.NewBalanceAggregator(m)
	last, err := agg.LastTopupOf(context.Background(), testOrg, testCase)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(topupAt))
}

func TestLastTopupOf_NoTopups_IsNil(t *testing.T) {
	m := store.NewMemory()
	agg := ledger.NewBalanceAggregator(m)

	last, err := agg.LastTopupOf(context.Background(), testOrg, testCase)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSummarize_OnePassFigures(t *testing.T) {
	m := store.NewMemory()
	now := time.Now().UTC()
	seedEntry(t, m, testCase, "1000.00", now)
	seedEntry(t, m, testCase, "500.00", now.Add(time.Hour))
	seedEntry(t, m, testCase, "-750.00", now.Add(2*time.Hour))

	agg := ledger.NewBalanceAggregator(m)
	s, err := agg.Summarize(context.Background(), testOrg, testCase)
	require.NoError(t, err)

	assert.True(t, s.Balance.Equal(amt("750.00")))
	assert.Equal(t, 3, s.Entries)
	require.NotNil(t, s.LastTopup)
	assert.True(t, s.LastTopup.Equal(now.Add(time.Hour)))
}

// =============================================================================
// TENANCY TESTS
// =============================================================================

func TestBalanceOf_ScopedByOrg(t *testing.T) {
	// GIVEN: Entries for the same case id under two organizations
	// WHEN: Reading the balance from the other org
	// THEN: The other org sees nothing - scoping happens in the store

	ctx := context.Background()
	m := store.NewMemory()
	seedEntry(t, m, testCase, "1000.00", time.Now().UTC())

	agg := ledger.NewBalanceAggregator(m)
	balance, err := agg.BalanceOf(ctx, otherOrg, testCase)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGetEntry_WrongOrg_BehavesAsNotFound(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	id := seedEntry(t, m, testCase, "100.00", time.Now().UTC())

	_, err := m.GetEntry(ctx, otherOrg, id)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	err = m.DeleteEntry(ctx, otherOrg, id)
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}
