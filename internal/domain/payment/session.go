package payment

import (
	"time"

	"github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/google/uuid"
)

// SessionStatus represents the authorization session status in the state machine
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusProcessing SessionStatus = "processing"
	StatusApproved   SessionStatus = "approved"
	StatusDeclined   SessionStatus = "declined"
	StatusError      SessionStatus = "error"
)

// ProviderManual tags sessions that never left the station.
const ProviderManual = "manual"

// Result is the last known outcome payload of an attempt.
type Result struct {
	Status            RemoteStatus
	AuthorizationCode string
	Brand             string
	NSU               string
	QRPayload         string
	ExpiresAt         *time.Time
	Message           string
}

// AuthorizationSession is one authorization attempt bound to a sale total.
// Values of this type are snapshots; the orchestrator owns the live instance.
type AuthorizationSession struct {
	ID                uuid.UUID
	Status            SessionStatus
	Method            PaymentMethod
	Channel           ChannelKind
	BoundAmount       Amount
	Provider          string
	ProviderReference string
	Result            *Result
	StartAttempts     int
	PollCount         int
	// Released is meaningful on StatusError: whether the remote side was
	// confirmed released after a timeout.
	Released  bool
	LastError string
	// Generation increases on every reset; background work compares it
	// before applying late results.
	Generation uint64
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// NewSession returns an idle session.
func NewSession() *AuthorizationSession {
	return &AuthorizationSession{Status: StatusIdle, UpdatedAt: time.Now()}
}

var transitions = map[SessionStatus][]SessionStatus{
	StatusIdle: {
		StatusProcessing,
		StatusApproved, // Immediate outcomes (manual, instant PIX)
		StatusDeclined,
	},
	StatusProcessing: {
		StatusApproved,
		StatusDeclined,
		StatusError,
		StatusIdle, // cart changed or operator cancelled
	},
	StatusApproved: {StatusIdle},
	StatusDeclined: {StatusIdle},
	StatusError:    {StatusIdle},
}

// CanTransitionTo checks if the session can transition to the given status
func (s *AuthorizationSession) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *AuthorizationSession) transitionTo(next SessionStatus) error {
	if !s.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(s.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	return nil
}

// Begin binds a fresh attempt to the given method and amount. Only valid from Idle.
func (s *AuthorizationSession) Begin(method PaymentMethod, kind ChannelKind, amount Amount) error {
	return s.BeginAttempt(uuid.New(), method, kind, amount)
}

// BeginAttempt is Begin with a caller-chosen attempt ID, used when the ID was
// already sent to a provider as the charge reference.
func (s *AuthorizationSession) BeginAttempt(id uuid.UUID, method PaymentMethod, kind ChannelKind, amount Amount) error {
	if s.Status != StatusIdle {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot begin an attempt while "+string(s.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	now := time.Now()
	s.ID = id
	s.Method = method
	s.Channel = kind
	s.BoundAmount = amount
	s.Provider = ""
	s.ProviderReference = ""
	s.Result = nil
	s.StartAttempts = 0
	s.PollCount = 0
	s.Released = false
	s.LastError = ""
	s.StartedAt = now
	s.UpdatedAt = now
	return nil
}

// MarkProcessing records a pending remote attempt.
func (s *AuthorizationSession) MarkProcessing(provider, reference string, first *Result) error {
	if err := s.transitionTo(StatusProcessing); err != nil {
		return err
	}
	s.Provider = provider
	s.ProviderReference = reference
	s.Result = first
	return nil
}

// UpdateResult replaces the intermediate payload while processing (e.g. a refreshed QR code).
func (s *AuthorizationSession) UpdateResult(r *Result) {
	if s.Status != StatusProcessing || r == nil {
		return
	}
	s.Result = r
	s.UpdatedAt = time.Now()
}

// MarkApproved records an approval.
func (s *AuthorizationSession) MarkApproved(provider, reference string, r *Result) error {
	if err := s.transitionTo(StatusApproved); err != nil {
		return err
	}
	s.setOutcome(provider, reference, r)
	return nil
}

// MarkDeclined records a decline. A decline is an outcome, not an error.
func (s *AuthorizationSession) MarkDeclined(provider, reference string, r *Result) error {
	if err := s.transitionTo(StatusDeclined); err != nil {
		return err
	}
	s.setOutcome(provider, reference, r)
	return nil
}

// MarkError records a timeout or unrecoverable failure.
func (s *AuthorizationSession) MarkError(reason string, released bool) error {
	if err := s.transitionTo(StatusError); err != nil {
		return err
	}
	s.LastError = reason
	s.Released = released
	return nil
}

// Reset returns the session to Idle and discards any result. Resetting an
// idle session only bumps the generation so in-flight work is discarded.
func (s *AuthorizationSession) Reset() {
	if s.Status != StatusIdle {
		_ = s.transitionTo(StatusIdle)
	}
	*s = AuthorizationSession{
		Status:     StatusIdle,
		Generation: s.Generation + 1,
		UpdatedAt:  time.Now(),
	}
}

// IsTerminal reports whether the attempt has finished.
func (s *AuthorizationSession) IsTerminal() bool {
	return s.Status == StatusApproved || s.Status == StatusDeclined || s.Status == StatusError
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *AuthorizationSession) Snapshot() AuthorizationSession {
	cp := *s
	if s.Result != nil {
		r := *s.Result
		if s.Result.ExpiresAt != nil {
			t := *s.Result.ExpiresAt
			r.ExpiresAt = &t
		}
		cp.Result = &r
	}
	return cp
}

func (s *AuthorizationSession) setOutcome(provider, reference string, r *Result) {
	if provider != "" {
		s.Provider = provider
	}
	if reference != "" {
		s.ProviderReference = reference
	}
	if r != nil {
		s.Result = r
	}
}
