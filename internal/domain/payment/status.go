package payment

import "strings"

// RemoteStatus is a provider-reported charge status normalized to three values.
type RemoteStatus string

const (
	RemoteApproved   RemoteStatus = "approved"
	RemoteDeclined   RemoteStatus = "declined"
	RemoteProcessing RemoteStatus = "processing"
)

var (
	approvedVocabulary = map[string]struct{}{
		"approved": {}, "authorized": {}, "success": {}, "paid": {}, "finished": {}, "closed": {},
		"processed": {}, "accredited": {},
	}
	declinedVocabulary = map[string]struct{}{
		"rejected": {}, "declined": {}, "denied": {}, "canceled": {}, "cancelled": {},
		"refused": {}, "failure": {}, "failed": {}, "expired": {},
	}
)

// NormalizeRemoteStatus maps provider vocabulary onto RemoteStatus.
// Anything unrecognized is still in flight.
func NormalizeRemoteStatus(raw string) RemoteStatus {
	v := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := approvedVocabulary[v]; ok {
		return RemoteApproved
	}
	if _, ok := declinedVocabulary[v]; ok {
		return RemoteDeclined
	}
	return RemoteProcessing
}

// IsTerminal reports whether no further polling is needed.
func (s RemoteStatus) IsTerminal() bool {
	return s == RemoteApproved || s == RemoteDeclined
}
