/*
balance.go - Retainer balance aggregation

PURPOSE:
  Computes a case's current retainer balance and last top-up timestamp by
  summing its fund entries. This answers "how much does this case hold?"

KEY INSIGHT:
  The balance is ALWAYS recomputed from the full entry set. There is no
  incremental running total: entries can be added, edited (when unlinked)
  or removed out of order, and with multiple clients mutating the same
  case a cached total is exactly the thing that drifts. Recomputing on
  every read means a conflicting concurrent write is picked up on the
  next read rather than silently lost.

COST:
  O(n) per read over the case's entries. Acceptable at this scale; a
  cached total would only be correct if updated atomically with every
  entry write at the storage layer.

SEE ALSO:
  - types.go: FundEntry and money helpers
  - billing/settlement.go: Re-reads the balance at commit time
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE AGGREGATOR - Pure recomputation over the entry set
// =============================================================================

// BalanceAggregator derives balance figures from the store's entries.
type BalanceAggregator struct {
	Store Store
}

func NewBalanceAggregator(store Store) *BalanceAggregator {
	return &BalanceAggregator{Store: store}
}

// BalanceOf returns the case's current retainer balance: the sum of all
// entry amounts, recomputed from the full entry set.
func (ba *BalanceAggregator) BalanceOf(ctx context.Context, org OrgID, caseID CaseID) (decimal.Decimal, error) {
	entries, err := ba.Store.ListEntries(ctx, org, caseID)
	if err != nil {
		return decimal.Zero, err
	}
	return SumEntries(entries), nil
}

// LastTopupOf returns the most recent CreatedAt among positive entries,
// or nil when the case has never been topped up.
func (ba *BalanceAggregator) LastTopupOf(ctx context.Context, org OrgID, caseID CaseID) (*time.Time, error) {
	entries, err := ba.Store.ListEntries(ctx, org, caseID)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	for _, e := range entries {
		if !e.IsTopup() {
			continue
		}
		t := e.CreatedAt
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

// Summary bundles the figures the UI shows for a case's fund.
type Summary struct {
	CaseID    CaseID
	Balance   decimal.Decimal
	LastTopup *time.Time
	Entries   int
}

// Summarize computes balance, last top-up and entry count in one pass.
func (ba *BalanceAggregator) Summarize(ctx context.Context, org OrgID, caseID CaseID) (Summary, error) {
	entries, err := ba.Store.ListEntries(ctx, org, caseID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{CaseID: caseID, Balance: decimal.Zero, Entries: len(entries)}
	for _, e := range entries {
		s.Balance = s.Balance.Add(e.Amount)
		if e.IsTopup() {
			t := e.CreatedAt
			if s.LastTopup == nil || t.After(*s.LastTopup) {
				s.LastTopup = &t
			}
		}
	}
	s.Balance = Normalize(s.Balance)
	return s, nil
}

// SumEntries sums amounts without touching the store. Used by the
// aggregator and by tests asserting the recompute invariant.
func SumEntries(entries []FundEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return Normalize(total)
}
