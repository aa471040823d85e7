package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/pospay/internal/application/checkout"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/cassiomorais/pospay/internal/infrastructure/config"
	"github.com/cassiomorais/pospay/internal/infrastructure/observability"
	"github.com/cassiomorais/pospay/internal/infrastructure/providers"
	"github.com/cassiomorais/pospay/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStation = "caixa-1"

// heldSleeper keeps pending attempts in Processing until they are cancelled.
func heldSleeper(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeAudit struct {
	*testutil.MockEventRepository
	total payment.Amount
	count int
}

func (f *fakeAudit) SumFinalized(context.Context, string) (payment.Amount, int, error) {
	return f.total, f.count, nil
}

type checkoutEnv struct {
	terminal *testutil.MockTerminal
	audit    *fakeAudit
	orch     *checkout.Orchestrator
	router   http.Handler
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()
	env := &checkoutEnv{
		terminal: testutil.NewMockTerminal("mock"),
		audit:    &fakeAudit{MockEventRepository: testutil.NewMockEventRepository()},
	}

	channels := checkout.NewChannels(env.terminal, "PAX_A910__SMARTPOS1")
	locks := checkout.NewLockManager(testStation, channels.Releaser(), testutil.NewMockLockStore(), checkout.NopObserver{}, nil, zerolog.Nop())
	policy := checkout.NewPolicy(30)
	policy.BusyRetryDelay = time.Millisecond
	env.orch = checkout.NewOrchestrator(testStation, channels, locks, policy, zerolog.Nop(),
		checkout.WithSleeper(heldSleeper),
	)
	t.Cleanup(env.orch.Close)
	gate := checkout.NewSaleGate(env.orch, locks, nil, zerolog.Nop())

	env.router = NewRouter(RouterDeps{
		Registry: payment.NewRegistry([]payment.PaymentMethod{
			testutil.CashMethod, testutil.PixMethod, testutil.CreditMethod,
		}),
		Orchestrator: env.orch,
		Gate:         gate,
		Locks:        locks,
		Audit:        env.audit,
		Metrics:      observability.NewMetrics("test", prometheus.NewRegistry()),
		Logger:       zerolog.Nop(),
		Station:      config.StationConfig{ID: testStation},
	})
	return env
}

func (e *checkoutEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestCheckout_ListMethods(t *testing.T) {
	env := newCheckoutEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/checkout/methods", nil)
	require.Equal(t, http.StatusOK, w.Code)

	methods := decodeBody[[]MethodResponse](t, w)
	require.Len(t, methods, 3)
	assert.Equal(t, "pix", methods[0].ID)
	assert.Equal(t, "pix", methods[0].Channel)
	assert.Equal(t, "credit", methods[1].Channel)
	assert.Equal(t, "cash", methods[2].Channel)
	assert.Equal(t, "01", methods[2].NFCeCode)
}

func TestCheckout_AuthorizeCashAndFinalize(t *testing.T) {
	env := newCheckoutEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "cash",
		"amount":    "50.00",
	})
	require.Equal(t, http.StatusOK, w.Code)
	session := decodeBody[SessionResponse](t, w)
	assert.Equal(t, "approved", session.Status)
	assert.Equal(t, "50.00", session.Amount)
	assert.Equal(t, "BRL", session.Currency)
	assert.Equal(t, payment.ProviderManual, session.Provider)

	w = env.do(t, http.MethodGet, "/api/v1/checkout/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeBody[StateResponse](t, w)
	assert.True(t, state.CanFinalize)
	assert.Equal(t, 10, state.MaxPolls)
	assert.False(t, state.Lock.Locked)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/finalize", map[string]any{"amount": 50})
	require.Equal(t, http.StatusOK, w.Code)
	ev := decodeBody[EvidenceResponse](t, w)
	assert.Equal(t, session.ID, ev.SessionID)
	assert.Equal(t, "cash", ev.MethodID)
	assert.Equal(t, "50.00", ev.Amount)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/finalize", map[string]any{"amount": 50})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "payment_not_approved", decodeBody[ErrorResponse](t, w).Code)
}

func TestCheckout_AuthorizeErrors(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]any
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "unknown method",
			body:           map[string]any{"method_id": "voucher", "amount": "10.00"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "unknown_method",
		},
		{
			name:           "empty cart",
			body:           map[string]any{"method_id": "cash", "amount": "0"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "empty_cart",
		},
		{
			name:           "negative amount",
			body:           map[string]any{"method_id": "cash", "amount": "-1.00"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "validation_error",
		},
		{
			name:           "missing method",
			body:           map[string]any{"amount": "10.00"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "validation_error",
		},
		{
			name:           "unknown field",
			body:           map[string]any{"method_id": "cash", "amount": "10.00", "tip": 1},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCheckoutEnv(t)

			w := env.do(t, http.MethodPost, "/api/v1/checkout/authorize", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedCode, decodeBody[ErrorResponse](t, w).Code)
		})
	}
}

func TestCheckout_CardPendingThenCancelReleased(t *testing.T) {
	env := newCheckoutEnv(t)
	env.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
		return testutil.Processing("ORD-9"), nil
	}
	env.terminal.CancelFunc = func(context.Context, string) (bool, error) { return true, nil }

	w := env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "credit",
		"amount":    "120.50",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	session := decodeBody[SessionResponse](t, w)
	assert.Equal(t, "processing", session.Status)
	assert.Equal(t, "ORD-9", session.Reference)
	assert.Equal(t, "120.50", session.Amount)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "cash",
		"amount":    "120.50",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "authorization_in_progress", decodeBody[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeBody[CancelResponse](t, w)
	assert.True(t, out.Released)
	assert.False(t, out.Blocked)
	assert.Equal(t, "ORD-9", out.Reference)
	assert.Equal(t, "idle", out.Session.Status)
}

func TestCheckout_UnconfirmedCancelLocksStation(t *testing.T) {
	env := newCheckoutEnv(t)
	env.terminal.StartCardFunc = func(context.Context, providers.ChargeRequest) (*providers.ProviderResult, error) {
		return testutil.Processing("ORD-7"), nil
	}

	w := env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "credit",
		"amount":    "80",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/cancel", nil)
	require.Equal(t, http.StatusLocked, w.Code)
	out := decodeBody[CancelResponse](t, w)
	assert.True(t, out.Blocked)
	assert.False(t, out.Released)

	w = env.do(t, http.MethodGet, "/api/v1/checkout/terminal-lock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lock := decodeBody[LockResponse](t, w)
	assert.True(t, lock.Locked)
	assert.Equal(t, "ORD-7", lock.Reference)
	assert.NotNil(t, lock.EngagedAt)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "cash",
		"amount":    "80",
	})
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "station_locked", decodeBody[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/terminal-lock/release", nil)
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.False(t, decodeBody[ReleaseResponse](t, w).Released)

	env.terminal.ClearQueueFunc = func(context.Context, string, string) (bool, error) { return true, nil }

	w = env.do(t, http.MethodPost, "/api/v1/checkout/terminal-lock/release", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rel := decodeBody[ReleaseResponse](t, w)
	assert.True(t, rel.Released)
	assert.False(t, rel.Lock.Locked)

	w = env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "cash",
		"amount":    "80",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckout_CartTotalChangeInvalidatesApproval(t *testing.T) {
	env := newCheckoutEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/checkout/authorize", map[string]any{
		"method_id": "cash",
		"amount":    "30.00",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/checkout/cart-total", map[string]any{"amount": "35.00"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decodeBody[SessionResponse](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/v1/checkout/session", nil)
	state := decodeBody[StateResponse](t, w)
	assert.Equal(t, "35.00", state.CartTotal)
	assert.False(t, state.CanFinalize)
}

func TestCheckout_SessionEvents(t *testing.T) {
	env := newCheckoutEnv(t)
	id := uuid.New()
	require.NoError(t, env.audit.AddEvent(context.Background(), payment.NewSessionEvent(testStation, payment.AuthorizationSession{
		ID:          id,
		Status:      payment.StatusProcessing,
		Channel:     payment.ChannelPix,
		BoundAmount: payment.NewAmount(1000),
	})))

	w := env.do(t, http.MethodGet, "/api/v1/checkout/sessions/"+id.String()+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decodeBody[[]EventResponse](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, payment.EventSessionChanged, events[0].EventType)

	w = env.do(t, http.MethodGet, "/api/v1/checkout/sessions/not-a-uuid/events", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_Summary(t *testing.T) {
	env := newCheckoutEnv(t)
	env.audit.total = payment.NewAmount(25990)
	env.audit.count = 3

	w := env.do(t, http.MethodGet, "/api/v1/checkout/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[SummaryResponse](t, w)
	assert.Equal(t, testStation, summary.StationID)
	assert.Equal(t, "259.90", summary.Total)
	assert.Equal(t, "BRL", summary.Currency)
	assert.Equal(t, 3, summary.Count)
}

func TestListMethods_FallbackSet(t *testing.T) {
	h := NewCheckoutController(testStation, payment.NewRegistry(nil), nil, nil, nil, nil)
	r := chi.NewRouter()
	r.Get("/methods", h.ListMethods)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/methods", nil))
	require.Equal(t, http.StatusOK, w.Code)
	// No methods configured: the fallback set is offered.
	assert.Len(t, decodeBody[[]MethodResponse](t, w), 4)
}

func TestHealth_ReadyWithoutBackends(t *testing.T) {
	h := NewHealthController(nil, nil)
	w := httptest.NewRecorder()

	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
}
