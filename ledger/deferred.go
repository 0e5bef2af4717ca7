/*
deferred.go - Grace-period deletion with undo

PURPOSE:
  Implements "delete with undo": a delete request hides the item
  immediately, but the destructive persistence is deferred behind a
  cancellable timer. Within the grace window the operator can undo and
  nothing is persisted. The layer is generic over Deletable items; fund
  entries are the primary user, other list-managed entities reuse it.

LIFECYCLE (explicit, per item id):

  visible --RequestDelete--> pendingDelete(owned timer handle)
                               |-- Undo before fire --> restoredVisible
                               |-- timer fires, persist ok --> deleted
                               |-- timer fires, persist FAILS --> restoredVisible + error surfaced

  Each pending item owns its timer handle in a map keyed by item id.
  There are no ambient global timers; cancellation is releasing the handle
  before it fires. At most one pending timer per id - a second request
  while one is pending is rejected with DeletePendingError.

FAILURE RULE:
  If the persistent delete fails on expiry, the item is re-inserted into
  the visible set and the error is reported through OnError. The
  optimistic removal is never allowed to diverge from persisted truth.

GUARD:
  A Guard hook vets items before a request is accepted. The fund-entry
  deleter uses it to refuse entries linked to an invoice: those are only
  removed as a cascading consequence of deleting the invoice itself.

VISIBILITY:
  The deleter is the source of truth for what is optimistically hidden.
  List surfaces filter with IsPending; callers with their own in-memory
  collections can instead hook OnRestore/OnDeleted.

SEE ALSO:
  - ledger.go: DeleteEntry, the persistent delete for fund entries
  - api/handlers.go: RequestDelete/Undo endpoints and list filtering
*/
package ledger

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultGraceWindow is how long an operator has to undo a delete.
const DefaultGraceWindow = 5 * time.Second

// Deletable is an item the deferred deleter can manage.
type Deletable interface {
	DeleteID() string
}

// DeleteID lets FundEntry flow through the deferred deleter directly.
func (e FundEntry) DeleteID() string { return string(e.ID) }

// =============================================================================
// DELETER - Per-item timer lifecycle
// =============================================================================

// Deleter runs the grace-period deletion lifecycle.
type Deleter struct {
	// Grace is the undo window. Zero means DefaultGraceWindow.
	Grace time.Duration

	// Persist issues the destructive delete when the window expires.
	Persist func(ctx context.Context, item Deletable) error

	// Guard vets an item before a request is accepted. Optional.
	Guard func(item Deletable) error

	// OnRestore fires when an item returns to the visible set, either via
	// Undo or after a failed persist. Optional.
	OnRestore func(item Deletable)

	// OnDeleted fires after a successful persistent delete. Optional.
	OnDeleted func(item Deletable)

	// OnError fires when the persistent delete fails; the item has already
	// been restored by the time it is called. Optional.
	OnError func(item Deletable, err error)

	mu      sync.Mutex
	pending map[string]*pendingDelete
}

type pendingDelete struct {
	item    Deletable
	timer   *time.Timer
	firesAt time.Time
}

// NewDeleter creates a deleter committing through persist.
func NewDeleter(grace time.Duration, persist func(ctx context.Context, item Deletable) error) *Deleter {
	return &Deleter{
		Grace:   grace,
		Persist: persist,
		pending: make(map[string]*pendingDelete),
	}
}

// RequestDelete hides item and starts its grace timer.
// Returns DeletePendingError if a timer for the same id is already
// pending, or the Guard's error if the item may not be deleted.
func (d *Deleter) RequestDelete(item Deletable) error {
	if d.Guard != nil {
		if err := d.Guard(item); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		d.pending = make(map[string]*pendingDelete)
	}

	id := item.DeleteID()
	if p, ok := d.pending[id]; ok {
		return &DeletePendingError{ItemID: id, FiresAt: p.firesAt}
	}

	grace := d.Grace
	if grace <= 0 {
		grace = DefaultGraceWindow
	}

	p := &pendingDelete{item: item, firesAt: time.Now().Add(grace)}
	p.timer = time.AfterFunc(grace, func() { d.expire(id) })
	d.pending[id] = p
	return nil
}

// Undo cancels a pending delete and returns the restored item.
// Returns ErrUndoTooLate if the timer already fired (or never existed):
// the optimistic removal has been committed and cannot be taken back here.
func (d *Deleter) Undo(id string) (Deletable, error) {
	d.mu.Lock()
	p, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return nil, ErrUndoTooLate
	}
	if !p.timer.Stop() {
		// Timer fired concurrently; expire() owns the item now.
		d.mu.Unlock()
		return nil, ErrUndoTooLate
	}
	delete(d.pending, id)
	d.mu.Unlock()

	if d.OnRestore != nil {
		d.OnRestore(p.item)
	}
	return p.item, nil
}

// expire commits the persistent delete once the grace window passes.
func (d *Deleter) expire(id string) {
	d.mu.Lock()
	p, ok := d.pending[id]
	if !ok {
		// Undone in the gap between fire and lock acquisition.
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	d.mu.Unlock()

	if err := d.Persist(context.Background(), p.item); err != nil {
		// Re-insert: the hidden item must not diverge from persisted truth.
		log.Printf("[Deleter] persist failed for %s, restoring: %v", id, err)
		if d.OnRestore != nil {
			d.OnRestore(p.item)
		}
		if d.OnError != nil {
			d.OnError(p.item, err)
		}
		return
	}

	if d.OnDeleted != nil {
		d.OnDeleted(p.item)
	}
}

// IsPending reports whether id is hidden awaiting its grace window.
// List surfaces use this to filter optimistically removed items.
func (d *Deleter) IsPending(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}

// PendingCount returns the number of items awaiting their grace window.
func (d *Deleter) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels all pending timers and restores their items without
// persisting anything. Used on shutdown so an in-flight grace window
// never races a closing store.
func (d *Deleter) Close() {
	d.mu.Lock()
	restored := make([]Deletable, 0, len(d.pending))
	for id, p := range d.pending {
		if p.timer.Stop() {
			restored = append(restored, p.item)
		}
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if d.OnRestore != nil {
		for _, item := range restored {
			d.OnRestore(item)
		}
	}
}

// =============================================================================
// FUND ENTRY DELETER - Deleter wired to the ledger with the linked guard
// =============================================================================

// NewEntryDeleter builds a Deleter for fund entries: the guard refuses
// invoice-linked entries up front, and expiry commits through
// Ledger.DeleteEntry (which re-checks linkage at the store).
func NewEntryDeleter(l *Ledger, grace time.Duration) *Deleter {
	d := NewDeleter(grace, func(ctx context.Context, item Deletable) error {
		entry := item.(FundEntry)
		return l.DeleteEntry(ctx, entry.OrgID, entry.ID)
	})
	d.Guard = func(item Deletable) error {
		entry, ok := item.(FundEntry)
		if !ok {
			return ErrEntryNotFound
		}
		if entry.Linked() {
			return &LinkedEntryError{EntryID: entry.ID, InvoiceID: entry.InvoiceID}
		}
		return nil
	}
	return d
}
