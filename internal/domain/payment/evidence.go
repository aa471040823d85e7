package payment

import (
	"time"

	"github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/google/uuid"
)

// PaymentEvidence is what a finalized sale records as proof of payment.
type PaymentEvidence struct {
	SessionID         uuid.UUID
	MethodID          string
	Channel           ChannelKind
	NFCeCode          string
	Amount            Amount
	Status            RemoteStatus
	Provider          string
	ProviderReference string
	NSU               string
	Brand             string
	AuthorizationCode string
	ApprovedAt        time.Time
}

// EvidenceFrom extracts the evidence of an approved session.
func EvidenceFrom(s AuthorizationSession) (PaymentEvidence, error) {
	if s.Status != StatusApproved {
		return PaymentEvidence{}, errors.ErrPaymentNotApproved
	}
	ev := PaymentEvidence{
		SessionID:         s.ID,
		MethodID:          s.Method.ID,
		Channel:           s.Channel,
		NFCeCode:          s.Method.NFCeCode,
		Amount:            s.BoundAmount,
		Status:            RemoteApproved,
		Provider:          s.Provider,
		ProviderReference: s.ProviderReference,
		ApprovedAt:        s.UpdatedAt,
	}
	if s.Result != nil {
		ev.NSU = s.Result.NSU
		ev.Brand = s.Result.Brand
		ev.AuthorizationCode = s.Result.AuthorizationCode
	}
	return ev, nil
}
