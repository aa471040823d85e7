package controller

import (
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts are decimals in currency units ("120.50" or 120.5); they are
// converted to cents before reaching the checkout layer.

// AuthorizeRequest starts an authorization for the cart total.
type AuthorizeRequest struct {
	MethodID string          `json:"method_id" validate:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

// CartTotalRequest reports the current cart total. Zero means an empty cart.
type CartTotalRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

// FinalizeRequest consumes the approved payment for a sale.
type FinalizeRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

// --- Response DTOs ---

// MethodResponse is one selectable payment method.
type MethodResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	NFCeCode  string `json:"nfce_code,omitempty"`
	SortOrder int    `json:"sort_order"`
}

// ResultResponse is the last known outcome of an attempt.
type ResultResponse struct {
	Status            string     `json:"status"`
	AuthorizationCode string     `json:"authorization_code,omitempty"`
	Brand             string     `json:"brand,omitempty"`
	NSU               string     `json:"nsu,omitempty"`
	QRPayload         string     `json:"qr_payload,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	Message           string     `json:"message,omitempty"`
}

// SessionResponse represents the authorization session in API responses.
type SessionResponse struct {
	ID            string          `json:"id,omitempty"`
	Status        string          `json:"status"`
	MethodID      string          `json:"method_id,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	Amount        string          `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	StartAttempts int             `json:"start_attempts"`
	PollCount     int             `json:"poll_count"`
	Released      *bool           `json:"released,omitempty"`
	Error         string          `json:"error,omitempty"`
	Result        *ResultResponse `json:"result,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
}

// StateResponse is the station view polled by the POS front end.
type StateResponse struct {
	Session     *SessionResponse `json:"session"`
	Busy        bool             `json:"busy"`
	CartTotal   string           `json:"cart_total"`
	CanFinalize bool             `json:"can_finalize"`
	MaxPolls    int              `json:"max_polls"`
	Lock        LockResponse     `json:"terminal_lock"`
}

// EvidenceResponse is the proof of payment a finalized sale records.
type EvidenceResponse struct {
	SessionID         string    `json:"session_id"`
	MethodID          string    `json:"method_id"`
	Channel           string    `json:"channel"`
	NFCeCode          string    `json:"nfce_code,omitempty"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	Provider          string    `json:"provider"`
	Reference         string    `json:"reference,omitempty"`
	NSU               string    `json:"nsu,omitempty"`
	Brand             string    `json:"brand,omitempty"`
	AuthorizationCode string    `json:"authorization_code,omitempty"`
	ApprovedAt        time.Time `json:"approved_at"`
}

// CancelResponse reports what an operator cancel did.
type CancelResponse struct {
	Released  bool             `json:"released"`
	Blocked   bool             `json:"blocked"`
	Reference string           `json:"reference,omitempty"`
	Session   *SessionResponse `json:"session"`
}

// LockResponse represents the station terminal lock.
type LockResponse struct {
	Locked    bool       `json:"locked"`
	Reference string     `json:"reference,omitempty"`
	EngagedAt *time.Time `json:"engaged_at,omitempty"`
}

// ReleaseResponse reports a terminal release attempt.
type ReleaseResponse struct {
	Released bool         `json:"released"`
	Lock     LockResponse `json:"terminal_lock"`
}

// EventResponse is one audit trail entry.
type EventResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// SummaryResponse totals the sales finalized at the station.
type SummaryResponse struct {
	StationID string `json:"station_id"`
	Total     string `json:"total"`
	Currency  string `json:"currency"`
	Count     int    `json:"count"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// maxAmount is the largest total a station may charge.
var maxAmount = decimal.New(99_999_999, 0)

// toAmount converts a request decimal to an amount. Sub-cent digits are
// rounded half away from zero. allowZero admits an empty cart.
func toAmount(d decimal.Decimal, currency string, allowZero bool) (payment.Amount, error) {
	if d.IsNegative() {
		return payment.Amount{}, domainErrors.NewValidationError("amount", "must not be negative")
	}
	if d.GreaterThan(maxAmount) {
		return payment.Amount{}, domainErrors.NewValidationError("amount", "exceeds the station limit")
	}
	a := payment.AmountFromDecimal(d, strings.ToUpper(currency))
	if a.IsZero() && !allowZero {
		return payment.Amount{}, domainErrors.NewValidationError("amount", "must be greater than 0")
	}
	return a, nil
}

func fromMethod(m payment.PaymentMethod) MethodResponse {
	return MethodResponse{
		ID:        m.ID,
		Name:      m.DisplayName,
		Channel:   string(payment.ResolveChannelKind(m)),
		NFCeCode:  m.NFCeCode,
		SortOrder: m.SortOrder,
	}
}

// FromSession converts a session snapshot to API response.
func FromSession(s payment.AuthorizationSession) *SessionResponse {
	resp := &SessionResponse{
		Status:        string(s.Status),
		StartAttempts: s.StartAttempts,
		PollCount:     s.PollCount,
		Error:         s.LastError,
	}
	if s.Status == payment.StatusIdle {
		return resp
	}

	resp.ID = s.ID.String()
	resp.MethodID = s.Method.ID
	resp.Channel = string(s.Channel)
	resp.Amount = s.BoundAmount.ProviderString()
	resp.Currency = s.BoundAmount.Currency
	resp.Provider = s.Provider
	resp.Reference = s.ProviderReference
	if s.Status == payment.StatusError {
		released := s.Released
		resp.Released = &released
	}
	if s.Result != nil {
		resp.Result = &ResultResponse{
			Status:            string(s.Result.Status),
			AuthorizationCode: s.Result.AuthorizationCode,
			Brand:             s.Result.Brand,
			NSU:               s.Result.NSU,
			QRPayload:         s.Result.QRPayload,
			ExpiresAt:         s.Result.ExpiresAt,
			Message:           s.Result.Message,
		}
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		resp.StartedAt = &started
	}
	if !s.UpdatedAt.IsZero() {
		updated := s.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// FromEvidence converts payment evidence to API response.
func FromEvidence(ev payment.PaymentEvidence) *EvidenceResponse {
	return &EvidenceResponse{
		SessionID:         ev.SessionID.String(),
		MethodID:          ev.MethodID,
		Channel:           string(ev.Channel),
		NFCeCode:          ev.NFCeCode,
		Amount:            ev.Amount.ProviderString(),
		Currency:          ev.Amount.Currency,
		Provider:          ev.Provider,
		Reference:         ev.ProviderReference,
		NSU:               ev.NSU,
		Brand:             ev.Brand,
		AuthorizationCode: ev.AuthorizationCode,
		ApprovedAt:        ev.ApprovedAt,
	}
}

func fromLock(l payment.TerminalLock) LockResponse {
	resp := LockResponse{Locked: l.Active}
	if l.Active {
		resp.Reference = l.Reference
		if !l.EngagedAt.IsZero() {
			engaged := l.EngagedAt
			resp.EngagedAt = &engaged
		}
	}
	return resp
}

func fromEvent(e *payment.SessionEvent) EventResponse {
	return EventResponse{
		ID:        e.ID.String(),
		EventType: e.EventType,
		EventData: e.EventData,
		CreatedAt: e.CreatedAt,
	}
}
