/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the retainer ledger and invoice settlement via REST. Handles
  HTTP request/response and JSON serialization; all business rules live
  in the ledger and billing packages.

ENDPOINTS (all under /api/orgs/{orgID}):
  Fund:
    GET    /cases/{caseID}/fund              Fund summary (balance, last top-up, entries)
    POST   /cases/{caseID}/fund/topups       Record a top-up
    POST   /cases/{caseID}/fund/adjustments  Record a signed adjustment
    PUT    /fund/{entryID}                   Edit an unlinked entry
    DELETE /fund/{entryID}                   Request grace-period delete
    POST   /fund/{entryID}/undo              Undo a pending delete

  Invoices:
    GET    /cases/{caseID}/invoices          List case invoices
    POST   /cases/{caseID}/invoices          Create draft invoice
    GET    /invoices/{id}                    Get invoice
    PUT    /invoices/{id}                    Edit total/due date
    POST   /invoices/{id}/send               Mark sent
    POST   /invoices/{id}/payments           Record a payment
    DELETE /invoices/{id}                    Void (cascades linked entries)

ERROR HANDLING:
  Rejections map by class:
    400: invariant violations from operator input (overpayment,
         insufficient balance, linked entry, bad split)
    404: unknown entry/invoice (includes cross-tenant access)
    409: concurrency conflicts (stale invoice state, delete already
         pending, undo too late)
    503: transient store failures (retryable by the client)
    500: anything else
  Every 4xx body names the violated invariant so the operator can correct
  the input rather than retry blindly.

TENANCY:
  The org id rides in the URL and is passed explicitly into every store
  call. Nothing in this package keeps ambient session state.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     billing.TxStore
	Ledger    *ledger.Ledger
	Processor *billing.Processor
	Deleter   *ledger.Deleter
}

// NewHandler wires the engine components over one store. grace is the
// undo window for entry deletion; zero means the default.
func NewHandler(store billing.TxStore, grace time.Duration) *Handler {
	l := ledger.New(store)
	return &Handler{
		Store:     store,
		Ledger:    l,
		Processor: billing.NewProcessor(store),
		Deleter:   ledger.NewEntryDeleter(l, grace),
	}
}

// Close cancels pending grace-period deletes without committing them.
func (h *Handler) Close() {
	h.Deleter.Close()
}

func orgParam(r *http.Request) ledger.OrgID {
	return ledger.OrgID(chi.URLParam(r, "orgID"))
}

func caseParam(r *http.Request) ledger.CaseID {
	return ledger.CaseID(chi.URLParam(r, "caseID"))
}

// =============================================================================
// FUND HANDLERS
// =============================================================================

// GetFund returns the case's fund summary: balance, last top-up, entries.
// Entries hidden by a pending grace-period delete are filtered out, so
// the list the operator sees matches the optimistic state.
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	org, caseID := orgParam(r), caseParam(r)

	entries, err := h.Store.ListEntries(r.Context(), org, caseID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	visible := make([]ledger.FundEntry, 0, len(entries))
	for _, e := range entries {
		if !h.Deleter.IsPending(string(e.ID)) {
			visible = append(visible, e)
		}
	}

	dto := FundSummaryDTO{
		CaseID:  string(caseID),
		Balance: ledger.SumEntries(visible),
		Entries: make([]EntryDTO, len(visible)),
	}
	for i, e := range visible {
		dto.Entries[i] = toEntryDTO(e)
		if e.IsTopup() {
			t := e.CreatedAt.Format(time.RFC3339)
			if dto.LastTopup == nil || t > *dto.LastTopup {
				dto.LastTopup = &t
			}
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

// Topup records a positive fund entry.
func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	var req TopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Ledger.Topup(r.Context(), orgParam(r), caseParam(r), req.Amount, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	entry, err := h.Store.GetEntry(r.Context(), orgParam(r), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// Adjust records a signed manual correction. Negative adjustments are
// validated against the balance recomputed at commit time.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Ledger.Adjust(r.Context(), orgParam(r), caseParam(r), req.Amount, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	entry, err := h.Store.GetEntry(r.Context(), orgParam(r), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// UpdateEntry edits an unlinked entry's amount or note.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	org := orgParam(r)
	id := ledger.EntryID(chi.URLParam(r, "entryID"))
	err := h.Ledger.UpdateEntry(r.Context(), org, id, ledger.EntryPatch{
		Amount: req.Amount,
		Note:   req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	entry, err := h.Store.GetEntry(r.Context(), org, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// RequestDeleteEntry starts a grace-period delete for an unlinked entry.
// The entry disappears from list responses immediately; the persistent
// delete fires when the grace window expires unless undone.
func (h *Handler) RequestDeleteEntry(w http.ResponseWriter, r *http.Request) {
	org := orgParam(r)
	id := ledger.EntryID(chi.URLParam(r, "entryID"))

	entry, err := h.Store.GetEntry(r.Context(), org, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.Deleter.RequestDelete(entry); err != nil {
		h.writeDomainError(w, err)
		return
	}

	grace := h.Deleter.Grace
	if grace <= 0 {
		grace = ledger.DefaultGraceWindow
	}
	writeJSON(w, http.StatusAccepted, PendingDeleteDTO{
		ID:           string(id),
		GraceSeconds: int(grace.Seconds()),
		Undoable:     true,
	})
}

// UndoDeleteEntry cancels a pending delete within the grace window.
func (h *Handler) UndoDeleteEntry(w http.ResponseWriter, r *http.Request) {
	item, err := h.Deleter.Undo(chi.URLParam(r, "entryID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(item.(ledger.FundEntry)))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns a case's invoices with freshly derived statuses.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Processor.ListInvoices(r.Context(), orgParam(r), caseParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoice opens a draft invoice on a case.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}

	inv, err := h.Processor.CreateInvoice(r.Context(), orgParam(r), caseParam(r), req.Total, dueDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Processor.GetInvoice(r.Context(), orgParam(r), invoiceParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// EditInvoice changes the total (only while nothing is paid) and/or the
// due date.
func (h *Handler) EditInvoice(w http.ResponseWriter, r *http.Request) {
	var req EditInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	org, id := orgParam(r), invoiceParam(r)
	var inv billing.Invoice
	var err error

	if req.Total != nil {
		inv, err = h.Processor.EditTotal(r.Context(), org, id, *req.Total)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if req.DueDate != nil {
		var due *time.Time
		if *req.DueDate != "" {
			due, err = parseDueDate(req.DueDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
				return
			}
		}
		inv, err = h.Processor.SetDueDate(r.Context(), org, id, due)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if req.Total == nil && req.DueDate == nil {
		inv, err = h.Processor.GetInvoice(r.Context(), org, id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// SendInvoice marks a draft invoice as sent.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Processor.MarkSent(r.Context(), orgParam(r), invoiceParam(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// RecordPayment applies a payment to an invoice.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	source, err := parseSource(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment source", err)
		return
	}

	inv, err := h.Processor.RecordPayment(r.Context(), orgParam(r), invoiceParam(r), req.Amount, source)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// VoidInvoice deletes an invoice and cascades its linked fund entries in
// one transaction. This is the only path that removes linked entries.
func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.VoidInvoice(r.Context(), orgParam(r), invoiceParam(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func invoiceParam(r *http.Request) billing.InvoiceID {
	return billing.InvoiceID(chi.URLParam(r, "invoiceID"))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDueDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, err
	}
	// Due at end of day: an invoice is past due the day after.
	t = t.Add(24*time.Hour - time.Nanosecond)
	return &t, nil
}

func parseSource(req RecordPaymentRequest) (billing.PaymentSource, error) {
	switch billing.SourceKind(req.Source) {
	case billing.SourceRetainer:
		return billing.Retainer(), nil
	case billing.SourceExternal:
		return billing.External(), nil
	case billing.SourceMixed:
		if req.RetainerPortion == nil || req.ExternalPortion == nil {
			return billing.PaymentSource{}, errors.New("mixed source requires retainer_portion and external_portion")
		}
		return billing.Mixed(*req.RetainerPortion, *req.ExternalPortion), nil
	default:
		return billing.PaymentSource{}, errors.New(`source must be "retainer", "external" or "mixed"`)
	}
}

// writeDomainError maps engine rejections to HTTP statuses by class.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case billing.IsConflict(err),
		errors.Is(err, ledger.ErrDeleteAlreadyPending),
		errors.Is(err, ledger.ErrUndoTooLate):
		writeError(w, http.StatusConflict, "Conflict", err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Rejected", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
