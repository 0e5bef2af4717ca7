// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.EntryID]ledger.FundEntry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[ledger.EntryID]ledger.FundEntry)}
}

func (m *Memory) InsertEntry(_ context.Context, entry ledger.FundEntry) (ledger.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(entry)
}

func (m *Memory) insertLocked(entry ledger.FundEntry) (ledger.EntryID, error) {
	if entry.ID == "" {
		entry.ID = ledger.EntryID("ent-" + uuid.NewString())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Amount = ledger.Normalize(entry.Amount)
	m.entries[entry.ID] = entry
	return entry.ID, nil
}

func (m *Memory) ListEntries(_ context.Context, org ledger.OrgID, caseID ledger.CaseID) ([]ledger.FundEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.FundEntry
	for _, e := range m.entries {
		if e.OrgID == org && e.CaseID == caseID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) GetEntry(_ context.Context, org ledger.OrgID, id ledger.EntryID) (ledger.FundEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok || e.OrgID != org {
		// Wrong org behaves exactly like missing: tenancy is enforced here.
		return ledger.FundEntry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (m *Memory) UpdateEntry(_ context.Context, org ledger.OrgID, id ledger.EntryID, patch ledger.EntryPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.OrgID != org {
		return ledger.ErrEntryNotFound
	}
	if e.Linked() {
		return &ledger.LinkedEntryError{EntryID: id, InvoiceID: e.InvoiceID}
	}
	if patch.Amount != nil {
		e.Amount = ledger.Normalize(*patch.Amount)
	}
	if patch.Note != nil {
		e.Note = *patch.Note
	}
	m.entries[id] = e
	return nil
}

func (m *Memory) DeleteEntry(_ context.Context, org ledger.OrgID, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.OrgID != org {
		return ledger.ErrEntryNotFound
	}
	if e.Linked() {
		return &ledger.LinkedEntryError{EntryID: id, InvoiceID: e.InvoiceID}
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) DeleteEntriesByInvoice(_ context.Context, org ledger.OrgID, invoice ledger.InvoiceRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		if e.OrgID == org && e.InvoiceID == invoice {
			delete(m.entries, id)
		}
	}
	return nil
}

// =============================================================================
// SNAPSHOT/RESTORE - Transaction simulation hooks
// =============================================================================
// Transactional wrappers (billing/store.Memory) simulate rollback by taking
// a snapshot before the unit of work and restoring it on error.

// Snapshot returns a copy of all entries.
func (m *Memory) Snapshot() map[ledger.EntryID]ledger.FundEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[ledger.EntryID]ledger.FundEntry, len(m.entries))
	for k, v := range m.entries {
		cp[k] = v
	}
	return cp
}

// Restore replaces all entries with a previously taken snapshot.
func (m *Memory) Restore(s map[ledger.EntryID]ledger.FundEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = s
}
