package payment

import (
	"context"
	"time"
)

// TerminalLock is the station-wide block engaged when a remote charge could not
// be confirmed cancelled.
type TerminalLock struct {
	Active    bool
	Reference string
	EngagedAt time.Time
}

// LockStore persists the station terminal lock so a restarted station stays blocked.
type LockStore interface {
	// Load returns the stored lock, or an inactive lock when none is stored.
	Load(ctx context.Context, stationID string) (TerminalLock, error)

	// Save stores an active lock.
	Save(ctx context.Context, stationID string, lock TerminalLock) error

	// Clear removes the lock. Clearing an absent lock is not an error.
	Clear(ctx context.Context, stationID string) error
}
