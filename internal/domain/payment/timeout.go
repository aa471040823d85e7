package payment

import "time"

// Bounds of the per-station authorization timeout.
const (
	MinAuthorizationTimeout     = 10 * time.Second
	MaxAuthorizationTimeout     = 300 * time.Second
	DefaultAuthorizationTimeout = 30 * time.Second
)

// ClampTimeout converts a configured timeout in seconds into the poll budget.
// Unset values use the default; everything else is clamped to [10s, 300s].
func ClampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultAuthorizationTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d < MinAuthorizationTimeout {
		return MinAuthorizationTimeout
	}
	if d > MaxAuthorizationTimeout {
		return MaxAuthorizationTimeout
	}
	return d
}
