package testutil

import (
	"context"
	"sync"

	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
	"github.com/google/uuid"
)

// --- Terminal Mock ---

// MockTerminal is a scripted providers.Terminal that counts its calls.
// Unset funcs answer with a processing charge, a processing status and
// unconfirmed cancellations.
type MockTerminal struct {
	NameValue string

	StartPixFunc    func(ctx context.Context, req providers.ChargeRequest) (*providers.ProviderResult, error)
	StartCardFunc   func(ctx context.Context, req providers.ChargeRequest) (*providers.ProviderResult, error)
	QueryStatusFunc func(ctx context.Context, reference string) (*providers.ProviderResult, error)
	CancelFunc      func(ctx context.Context, reference string) (bool, error)
	ClearQueueFunc  func(ctx context.Context, reference, terminalHint string) (bool, error)

	mu    sync.Mutex
	calls map[string]int
	reqs  []providers.ChargeRequest
}

func NewMockTerminal(name string) *MockTerminal {
	return &MockTerminal{NameValue: name, calls: make(map[string]int)}
}

func (m *MockTerminal) Name() string { return m.NameValue }

func (m *MockTerminal) StartPix(ctx context.Context, req providers.ChargeRequest) (*providers.ProviderResult, error) {
	m.record("StartPix", &req)
	if m.StartPixFunc != nil {
		return m.StartPixFunc(ctx, req)
	}
	return &providers.ProviderResult{Status: payment.RemoteProcessing, Reference: "pix-" + req.SessionID, QRPayload: "000201"}, nil
}

func (m *MockTerminal) StartCard(ctx context.Context, req providers.ChargeRequest) (*providers.ProviderResult, error) {
	m.record("StartCard", &req)
	if m.StartCardFunc != nil {
		return m.StartCardFunc(ctx, req)
	}
	return &providers.ProviderResult{Status: payment.RemoteProcessing, Reference: "card-" + req.SessionID}, nil
}

func (m *MockTerminal) QueryStatus(ctx context.Context, reference string) (*providers.ProviderResult, error) {
	m.record("QueryStatus", nil)
	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, reference)
	}
	return &providers.ProviderResult{Status: payment.RemoteProcessing, Reference: reference}, nil
}

func (m *MockTerminal) Cancel(ctx context.Context, reference string) (bool, error) {
	m.record("Cancel", nil)
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, reference)
	}
	return false, nil
}

func (m *MockTerminal) ClearQueue(ctx context.Context, reference, terminalHint string) (bool, error) {
	m.record("ClearQueue", nil)
	if m.ClearQueueFunc != nil {
		return m.ClearQueueFunc(ctx, reference, terminalHint)
	}
	return false, nil
}

// Calls returns how many times method was called.
func (m *MockTerminal) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Requests returns the charge requests received by the start calls.
func (m *MockTerminal) Requests() []providers.ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]providers.ChargeRequest(nil), m.reqs...)
}

func (m *MockTerminal) record(method string, req *providers.ChargeRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
	if req != nil {
		m.reqs = append(m.reqs, *req)
	}
}

// --- Lock Store Mock ---

// MockLockStore is an in-memory payment.LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]payment.TerminalLock

	LoadFunc  func(ctx context.Context, stationID string) (payment.TerminalLock, error)
	SaveFunc  func(ctx context.Context, stationID string, lock payment.TerminalLock) error
	ClearFunc func(ctx context.Context, stationID string) error
}

func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]payment.TerminalLock)}
}

func (m *MockLockStore) Load(ctx context.Context, stationID string) (payment.TerminalLock, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, stationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[stationID], nil
}

func (m *MockLockStore) Save(ctx context.Context, stationID string, lock payment.TerminalLock) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, stationID, lock)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[stationID] = lock
	return nil
}

func (m *MockLockStore) Clear(ctx context.Context, stationID string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, stationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, stationID)
	return nil
}

// --- Observer Mock ---

// RecordingObserver records every notification it receives.
type RecordingObserver struct {
	mu       sync.Mutex
	sessions []payment.AuthorizationSession
	locked   []string
	unlocked int
}

func (r *RecordingObserver) SessionChanged(s payment.AuthorizationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *RecordingObserver) StationLocked(reference string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = append(r.locked, reference)
}

func (r *RecordingObserver) StationUnlocked() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlocked++
}

// Statuses returns the session statuses in notification order.
func (r *RecordingObserver) Statuses() []payment.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]payment.SessionStatus, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.Status
	}
	return out
}

// Sessions returns the notified snapshots.
func (r *RecordingObserver) Sessions() []payment.AuthorizationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payment.AuthorizationSession(nil), r.sessions...)
}

// Locked returns the references of StationLocked notifications.
func (r *RecordingObserver) Locked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.locked...)
}

// Unlocked returns the number of StationUnlocked notifications.
func (r *RecordingObserver) Unlocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unlocked
}

// --- Event Repository Mock ---

// MockEventRepository is a mock implementation of payment.EventRepository.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*payment.SessionEvent

	AddEventFunc  func(ctx context.Context, event *payment.SessionEvent) error
	GetEventsFunc func(ctx context.Context, sessionID uuid.UUID) ([]*payment.SessionEvent, error)
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[uuid.UUID][]*payment.SessionEvent)}
}

func (m *MockEventRepository) AddEvent(ctx context.Context, event *payment.SessionEvent) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.SessionID] = append(m.events[event.SessionID], event)
	return nil
}

func (m *MockEventRepository) GetEvents(ctx context.Context, sessionID uuid.UUID) ([]*payment.SessionEvent, error) {
	if m.GetEventsFunc != nil {
		return m.GetEventsFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[sessionID], nil
}

// All returns every stored event.
func (m *MockEventRepository) All() []*payment.SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.SessionEvent
	for _, evs := range m.events {
		out = append(out, evs...)
	}
	return out
}

// --- Finalize Hook Mock ---

// MockFinalizeHook records finalized evidence.
type MockFinalizeHook struct {
	NameValue string
	Err       error

	mu       sync.Mutex
	received []payment.PaymentEvidence
}

func (h *MockFinalizeHook) Name() string { return h.NameValue }

func (h *MockFinalizeHook) OnFinalized(_ context.Context, ev payment.PaymentEvidence) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, ev)
	return h.Err
}

// Received returns the evidence passed to the hook.
func (h *MockFinalizeHook) Received() []payment.PaymentEvidence {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]payment.PaymentEvidence(nil), h.received...)
}
