/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS ON THE WIRE:
  Monetary fields are decimal.Decimal, which marshals as an exact decimal
  string and unmarshals from either a JSON string or number. Floats never
  carry money across this boundary.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
)

// =============================================================================
// FUND ENTRIES
// =============================================================================

// EntryDTO represents a fund entry in API responses.
type EntryDTO struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"case_id"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	InvoiceID string          `json:"invoice_id,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func toEntryDTO(e ledger.FundEntry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		CaseID:    string(e.CaseID),
		Amount:    e.Amount,
		Note:      e.Note,
		InvoiceID: string(e.InvoiceID),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// FundSummaryDTO is the case fund overview the UI header shows.
type FundSummaryDTO struct {
	CaseID    string          `json:"case_id"`
	Balance   decimal.Decimal `json:"balance"`
	LastTopup *string         `json:"last_topup,omitempty"`
	Entries   []EntryDTO      `json:"entries"`
}

// TopupRequest records a positive fund entry.
type TopupRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// AdjustRequest records a signed manual correction.
type AdjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// UpdateEntryRequest patches an unlinked entry. Omitted fields are
// left unchanged.
type UpdateEntryRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Note   *string          `json:"note,omitempty"`
}

// PendingDeleteDTO acknowledges an accepted grace-period delete.
type PendingDeleteDTO struct {
	ID           string `json:"id"`
	GraceSeconds int    `json:"grace_seconds"`
	Undoable     bool   `json:"undoable"`
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID         string          `json:"id"`
	CaseID     string          `json:"case_id"`
	Total      decimal.Decimal `json:"total"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
	Status     string          `json:"status"`
	DueDate    *string         `json:"due_date,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:         string(inv.ID),
		CaseID:     string(inv.CaseID),
		Total:      inv.Total,
		TotalPaid:  inv.TotalPaid,
		BalanceDue: inv.BalanceDue,
		Status:     string(inv.Status),
		CreatedAt:  inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.DueDate != nil {
		s := inv.DueDate.Format("2006-01-02")
		dto.DueDate = &s
	}
	return dto
}

// CreateInvoiceRequest opens a draft invoice.
type CreateInvoiceRequest struct {
	Total   decimal.Decimal `json:"total"`
	DueDate *string         `json:"due_date,omitempty"` // YYYY-MM-DD
}

// EditInvoiceRequest changes total and/or due date.
type EditInvoiceRequest struct {
	Total   *decimal.Decimal `json:"total,omitempty"`
	DueDate *string          `json:"due_date,omitempty"` // YYYY-MM-DD, "" clears
}

// RecordPaymentRequest applies a payment to an invoice.
//
// Source is "retainer", "external" or "mixed"; mixed requires explicit
// portions summing exactly to amount.
type RecordPaymentRequest struct {
	Amount          decimal.Decimal  `json:"amount"`
	Source          string           `json:"source"`
	RetainerPortion *decimal.Decimal `json:"retainer_portion,omitempty"`
	ExternalPortion *decimal.Decimal `json:"external_portion,omitempty"`
}

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse carries a rejection to the client, naming the violated
// invariant in Details so the operator can correct the input.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
