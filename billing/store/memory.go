// Package store provides the combined in-memory Store for tests/dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
	lstore "github.com/caseflow/billing-engine/ledger/store"
)

// =============================================================================
// MEMORY STORE - Fund entries + invoices (for testing/dev)
// =============================================================================

// Memory implements billing.TxStore: the entry half is the ledger memory
// store, invoices live here alongside.
type Memory struct {
	*lstore.Memory

	mu       sync.RWMutex
	invoices map[billing.InvoiceID]billing.Invoice
	txMu     sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		Memory:   lstore.NewMemory(),
		invoices: make(map[billing.InvoiceID]billing.Invoice),
	}
}

func (m *Memory) InsertInvoice(_ context.Context, inv billing.Invoice) (billing.InvoiceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv.ID == "" {
		inv.ID = billing.InvoiceID("inv-" + uuid.NewString())
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	inv.Total = ledger.Normalize(inv.Total)
	inv.TotalPaid = ledger.Normalize(inv.TotalPaid)
	inv.BalanceDue = ledger.Normalize(inv.BalanceDue)
	m.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (m *Memory) GetInvoice(_ context.Context, org ledger.OrgID, id billing.InvoiceID) (billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok || inv.OrgID != org {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Invoice
	for _, inv := range m.invoices {
		if inv.OrgID == org && inv.CaseID == caseID {
			result = append(result, inv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) UpdateInvoice(_ context.Context, org ledger.OrgID, id billing.InvoiceID, patch billing.InvoicePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok || inv.OrgID != org {
		return billing.ErrInvoiceNotFound
	}
	if patch.ExpectedTotalPaid != nil && !inv.TotalPaid.Equal(*patch.ExpectedTotalPaid) {
		return billing.ErrStaleInvoiceState
	}
	if patch.Total != nil {
		inv.Total = ledger.Normalize(*patch.Total)
	}
	if patch.TotalPaid != nil {
		inv.TotalPaid = ledger.Normalize(*patch.TotalPaid)
	}
	if patch.BalanceDue != nil {
		inv.BalanceDue = ledger.Normalize(*patch.BalanceDue)
	}
	if patch.Status != nil {
		inv.Status = *patch.Status
	}
	if patch.DueDate != nil {
		inv.DueDate = *patch.DueDate
	}
	m.invoices[id] = inv
	return nil
}

func (m *Memory) DeleteInvoice(_ context.Context, org ledger.OrgID, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok || inv.OrgID != org {
		return billing.ErrInvoiceNotFound
	}
	delete(m.invoices, id)
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot/rollback simulation
// =============================================================================

// WithTx executes fn atomically: both maps are snapshotted before fn and
// restored if it fails.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	entrySnap := m.Memory.Snapshot()
	invSnap := m.snapshotInvoices()

	if err := fn(m); err != nil {
		m.Memory.Restore(entrySnap)
		m.restoreInvoices(invSnap)
		return err
	}
	return nil
}

func (m *Memory) snapshotInvoices() map[billing.InvoiceID]billing.Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[billing.InvoiceID]billing.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		cp[k] = v
	}
	return cp
}

func (m *Memory) restoreInvoices(s map[billing.InvoiceID]billing.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices = s
}

// SetTotalPaidForTest force-writes an invoice's paid figure, bypassing the
// CAS guard. Lets tests simulate another client's concurrent settlement.
func (m *Memory) SetTotalPaidForTest(id billing.InvoiceID, paid decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invoices[id]
	inv.TotalPaid = ledger.Normalize(paid)
	m.invoices[id] = inv
}
