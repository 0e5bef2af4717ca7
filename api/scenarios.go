/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Seeds the store with example data so the payment flows can be exercised
  end to end against a fresh database. Dev only; the loaders go through
  the same engine paths as real traffic, never raw inserts, so seeded
  state always satisfies the invariants.

SEE ALSO:
  - server.go: /api/scenarios routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caseflow/billing-engine/billing"
	"github.com/caseflow/billing-engine/ledger"
)

// ScenarioDTO describes a loadable demo dataset.
type ScenarioDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario by name.
type LoadScenarioRequest struct {
	Name string `json:"name"`
}

var scenarios = []ScenarioDTO{
	{
		Name:        "retainer-settlement",
		Description: "Case with a funded retainer and an invoice fully settled from it",
	},
	{
		Name:        "past-due",
		Description: "Sent invoice past its due date with a partial external payment",
	},
	{
		Name:        "mixed-payment",
		Description: "Invoice settled by an explicit retainer/external split",
	},
}

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the selected scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var err error
	switch req.Name {
	case "retainer-settlement":
		err = h.loadRetainerSettlement(r.Context())
	case "past-due":
		err = h.loadPastDue(r.Context())
	case "mixed-payment":
		err = h.loadMixedPayment(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.Name), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.Name})
}

const demoOrg = ledger.OrgID("org-demo")

func (h *Handler) loadRetainerSettlement(ctx context.Context) error {
	caseID := ledger.CaseID("case-estate-planning")
	if _, err := h.Ledger.Topup(ctx, demoOrg, caseID, ledger.MustParseAmount("1000.00"), "initial retainer"); err != nil {
		return err
	}
	if _, err := h.Ledger.Topup(ctx, demoOrg, caseID, ledger.MustParseAmount("500.00"), "replenishment"); err != nil {
		return err
	}

	inv, err := h.Processor.CreateInvoice(ctx, demoOrg, caseID, ledger.MustParseAmount("1200.00"), nil)
	if err != nil {
		return err
	}
	if _, err := h.Processor.MarkSent(ctx, demoOrg, inv.ID); err != nil {
		return err
	}
	_, err = h.Processor.RecordPayment(ctx, demoOrg, inv.ID, ledger.MustParseAmount("1200.00"), billing.Retainer())
	return err
}

func (h *Handler) loadPastDue(ctx context.Context) error {
	caseID := ledger.CaseID("case-contract-dispute")
	due := time.Now().AddDate(0, 0, -14)

	inv, err := h.Processor.CreateInvoice(ctx, demoOrg, caseID, ledger.MustParseAmount("500.00"), &due)
	if err != nil {
		return err
	}
	if _, err := h.Processor.MarkSent(ctx, demoOrg, inv.ID); err != nil {
		return err
	}
	_, err = h.Processor.RecordPayment(ctx, demoOrg, inv.ID, ledger.MustParseAmount("200.00"), billing.External())
	return err
}

func (h *Handler) loadMixedPayment(ctx context.Context) error {
	caseID := ledger.CaseID("case-incorporation")
	if _, err := h.Ledger.Topup(ctx, demoOrg, caseID, ledger.MustParseAmount("300.00"), "initial retainer"); err != nil {
		return err
	}

	inv, err := h.Processor.CreateInvoice(ctx, demoOrg, caseID, ledger.MustParseAmount("750.00"), nil)
	if err != nil {
		return err
	}
	if _, err := h.Processor.MarkSent(ctx, demoOrg, inv.ID); err != nil {
		return err
	}
	_, err = h.Processor.RecordPayment(ctx, demoOrg, inv.ID, ledger.MustParseAmount("750.00"),
		billing.Mixed(ledger.MustParseAmount("300.00"), ledger.MustParseAmount("450.00")))
	return err
}
