package providers

import (
	"context"
	"time"

	"github.com/cassiomorais/pospay/internal/domain/payment"
)

// ProviderResult is a provider response normalized to the three remote statuses.
type ProviderResult struct {
	Status            payment.RemoteStatus
	Reference         string
	NSU               string
	Brand             string
	AuthorizationCode string
	QRPayload         string
	ExpiresAt         *time.Time
	RawStatus         string
}

// ToResult converts the provider response into the session result payload.
func (r *ProviderResult) ToResult() *payment.Result {
	if r == nil {
		return nil
	}
	return &payment.Result{
		Status:            r.Status,
		AuthorizationCode: r.AuthorizationCode,
		Brand:             r.Brand,
		NSU:               r.NSU,
		QRPayload:         r.QRPayload,
		ExpiresAt:         r.ExpiresAt,
		Message:           r.RawStatus,
	}
}

// Terminal is an external payment service driving a card/QR terminal.
type Terminal interface {
	// Name returns the provider name.
	Name() string
	// StartPix registers a PIX charge and returns its scannable code.
	StartPix(ctx context.Context, req ChargeRequest) (*ProviderResult, error)
	// StartCard sends a card charge to the terminal. A terminal that already
	// holds a pending charge returns errors.ErrTerminalBusy.
	StartCard(ctx context.Context, req ChargeRequest) (*ProviderResult, error)
	// QueryStatus reads the current status of a charge.
	QueryStatus(ctx context.Context, reference string) (*ProviderResult, error)
	// Cancel cancels a charge by reference. It reports whether the cancellation
	// was confirmed.
	Cancel(ctx context.Context, reference string) (bool, error)
	// ClearQueue releases whatever is queued on the terminal, addressed by
	// charge reference, terminal or both.
	ClearQueue(ctx context.Context, reference, terminalHint string) (bool, error)
}

// ChargeRequest describes one charge attempt.
type ChargeRequest struct {
	SessionID    string
	Amount       payment.Amount
	Kind         payment.ChannelKind
	TerminalHint string
	Description  string
	// IdempotencyKey is unique per start attempt.
	IdempotencyKey string
}
