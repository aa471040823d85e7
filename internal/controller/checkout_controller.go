package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/pospay/internal/application/checkout"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AuditReader reads back the authorization audit trail.
type AuditReader interface {
	GetEvents(ctx context.Context, sessionID uuid.UUID) ([]*payment.SessionEvent, error)
	SumFinalized(ctx context.Context, stationID string) (payment.Amount, int, error)
}

// CheckoutController exposes the station checkout flow to the POS front end.
type CheckoutController struct {
	stationID    string
	registry     *payment.Registry
	orchestrator *checkout.Orchestrator
	gate         *checkout.SaleGate
	locks        *checkout.LockManager
	audit        AuditReader
}

// NewCheckoutController creates a new CheckoutController. audit may be nil.
func NewCheckoutController(
	stationID string,
	registry *payment.Registry,
	orchestrator *checkout.Orchestrator,
	gate *checkout.SaleGate,
	locks *checkout.LockManager,
	audit AuditReader,
) *CheckoutController {
	return &CheckoutController{
		stationID:    stationID,
		registry:     registry,
		orchestrator: orchestrator,
		gate:         gate,
		locks:        locks,
		audit:        audit,
	}
}

// ListMethods handles GET /api/v1/checkout/methods
func (h *CheckoutController) ListMethods(w http.ResponseWriter, r *http.Request) {
	methods := h.registry.ActiveMethods()
	resp := make([]MethodResponse, 0, len(methods))
	for _, m := range methods {
		resp = append(resp, fromMethod(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Authorize handles POST /api/v1/checkout/authorize
func (h *CheckoutController) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	amount, err := toAmount(req.Amount, req.Currency, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	method, err := h.registry.Lookup(req.MethodID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.orchestrator.Authorize(r.Context(), method, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if s.Status == payment.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, FromSession(s))
}

// GetState handles GET /api/v1/checkout/session
func (h *CheckoutController) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.orchestrator.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	lock, err := h.locks.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StateResponse{
		Session:     FromSession(st.Session),
		Busy:        st.Busy,
		CartTotal:   st.CartTotal.ProviderString(),
		CanFinalize: h.gate.CanFinalize(r.Context(), st.Session),
		MaxPolls:    h.orchestrator.Policy().MaxPolls(),
		Lock:        fromLock(lock),
	})
}

// SetCartTotal handles PUT /api/v1/checkout/cart-total
func (h *CheckoutController) SetCartTotal(w http.ResponseWriter, r *http.Request) {
	var req CartTotalRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := toAmount(req.Amount, req.Currency, true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.orchestrator.SetAmount(r.Context(), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSession(s))
}

// Cancel handles POST /api/v1/checkout/cancel
func (h *CheckoutController) Cancel(w http.ResponseWriter, r *http.Request) {
	out, err := h.gate.Cancel(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if out.Blocked {
		status = http.StatusLocked
	}
	writeJSON(w, status, CancelResponse{
		Released:  out.Released,
		Blocked:   out.Blocked,
		Reference: out.Reference,
		Session:   FromSession(out.Session),
	})
}

// Finalize handles POST /api/v1/checkout/finalize
func (h *CheckoutController) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := toAmount(req.Amount, req.Currency, false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := h.gate.Finalize(r.Context(), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromEvidence(ev))
}

// GetTerminalLock handles GET /api/v1/checkout/terminal-lock
func (h *CheckoutController) GetTerminalLock(w http.ResponseWriter, r *http.Request) {
	lock, err := h.locks.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromLock(lock))
}

// ReleaseTerminal handles POST /api/v1/checkout/terminal-lock/release
func (h *CheckoutController) ReleaseTerminal(w http.ResponseWriter, r *http.Request) {
	released, err := h.gate.Release(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	lock, err := h.locks.State(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !released {
		status = http.StatusLocked
	}
	writeJSON(w, status, ReleaseResponse{Released: released, Lock: fromLock(lock)})
}

// GetSessionEvents handles GET /api/v1/checkout/sessions/{id}/events
func (h *CheckoutController) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid session id", Code: "invalid_id"})
		return
	}

	events, err := h.audit.GetEvents(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, fromEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles GET /api/v1/checkout/summary
func (h *CheckoutController) GetSummary(w http.ResponseWriter, r *http.Request) {
	total, count, err := h.audit.SumFinalized(r.Context(), h.stationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		StationID: h.stationID,
		Total:     total.ProviderString(),
		Currency:  total.Currency,
		Count:     count,
	})
}
