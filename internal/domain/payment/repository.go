package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRepository defines the interface for the authorization audit trail
type EventRepository interface {
	// AddEvent adds a session event
	AddEvent(ctx context.Context, event *SessionEvent) error

	// GetEvents retrieves events for a session
	GetEvents(ctx context.Context, sessionID uuid.UUID) ([]*SessionEvent, error)
}

// SessionEvent represents an event in the authorization lifecycle
type SessionEvent struct {
	ID        uuid.UUID
	StationID string
	SessionID uuid.UUID
	EventType string
	EventData map[string]any
	CreatedAt time.Time
}

// Event types recorded for the audit trail.
const (
	EventSessionChanged   = "session.changed"
	EventStationLocked    = "station.locked"
	EventStationUnlocked  = "station.unlocked"
	EventPaymentFinalized = "payment.finalized"
)

// NewSessionEvent builds a session.changed event from a snapshot.
func NewSessionEvent(stationID string, s AuthorizationSession) *SessionEvent {
	data := map[string]any{
		"status":       string(s.Status),
		"channel":      string(s.Channel),
		"method_id":    s.Method.ID,
		"amount_cents": s.BoundAmount.ValueCents,
		"currency":     s.BoundAmount.Currency,
		"provider":     s.Provider,
		"reference":    s.ProviderReference,
		"poll_count":   s.PollCount,
		"generation":   s.Generation,
	}
	if s.Status == StatusError {
		data["released"] = s.Released
		data["error"] = s.LastError
	}
	if s.Result != nil {
		data["nsu"] = s.Result.NSU
		data["brand"] = s.Result.Brand
		data["authorization_code"] = s.Result.AuthorizationCode
	}
	return &SessionEvent{
		ID:        uuid.New(),
		StationID: stationID,
		SessionID: s.ID,
		EventType: EventSessionChanged,
		EventData: data,
		CreatedAt: time.Now(),
	}
}

// NewStationEvent builds a station.locked or station.unlocked event.
func NewStationEvent(stationID, eventType, reference string) *SessionEvent {
	data := map[string]any{}
	if reference != "" {
		data["reference"] = reference
	}
	return &SessionEvent{
		ID:        uuid.New(),
		StationID: stationID,
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now(),
	}
}

// NewFinalizedEvent builds a payment.finalized event from the evidence handed to the sale.
func NewFinalizedEvent(stationID string, ev PaymentEvidence) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.New(),
		StationID: stationID,
		SessionID: ev.SessionID,
		EventType: EventPaymentFinalized,
		EventData: map[string]any{
			"method_id":          ev.MethodID,
			"channel":            string(ev.Channel),
			"nfce_code":          ev.NFCeCode,
			"amount_cents":       ev.Amount.ValueCents,
			"currency":           ev.Amount.Currency,
			"provider":           ev.Provider,
			"reference":          ev.ProviderReference,
			"nsu":                ev.NSU,
			"brand":              ev.Brand,
			"authorization_code": ev.AuthorizationCode,
		},
		CreatedAt: time.Now(),
	}
}
