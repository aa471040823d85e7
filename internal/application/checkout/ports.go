package checkout

import (
	"context"

	"github.com/cassiomorais/pospay/internal/domain/payment"
)

// Observer is notified of every change the checkout flow must react to.
// SessionChanged calls for one orchestrator arrive in order from its notifier
// goroutine. StationLocked and StationUnlocked are called by whichever
// goroutine changed the lock, before that change returns, so implementations
// must be safe for concurrent use.
type Observer interface {
	SessionChanged(s payment.AuthorizationSession)
	StationLocked(reference string)
	StationUnlocked()
}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) SessionChanged(s payment.AuthorizationSession) {
	for _, o := range m {
		o.SessionChanged(s)
	}
}

func (m MultiObserver) StationLocked(reference string) {
	for _, o := range m {
		o.StationLocked(reference)
	}
}

func (m MultiObserver) StationUnlocked() {
	for _, o := range m {
		o.StationUnlocked()
	}
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SessionChanged(payment.AuthorizationSession) {}
func (NopObserver) StationLocked(string)                        {}
func (NopObserver) StationUnlocked()                            {}

// FinalizeHook is a downstream collaborator (fiscal document, receipt printing)
// run after a sale consumed its payment evidence.
type FinalizeHook interface {
	Name() string
	OnFinalized(ctx context.Context, ev payment.PaymentEvidence) error
}

// TerminalReleaser frees a terminal holding a charge.
type TerminalReleaser interface {
	// Cancel cancels the charge and reports whether it was confirmed.
	Cancel(ctx context.Context, reference string) (bool, error)
	// ClearQueue clears the terminal queue by reference or station terminal.
	ClearQueue(ctx context.Context, reference string) (bool, error)
	// Query reads the current remote status of the charge.
	Query(ctx context.Context, reference string) (*payment.Result, error)
}
