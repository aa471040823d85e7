package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/cassiomorais/pospay/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMercadoPagoServer(t *testing.T, mux *http.ServeMux) *MercadoPago {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mp, err := NewMercadoPago(MercadoPagoSettings{BaseURL: srv.URL, AccessToken: "Bearer APP_USR-123", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return mp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewMercadoPago_RequiresToken(t *testing.T) {
	_, err := NewMercadoPago(MercadoPagoSettings{AccessToken: "  "})
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotConfigured)
}

func TestMercadoPago_StartCard(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer APP_USR-123", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ORD01", "status": "created"})
	})
	mux.HandleFunc("GET /v1/orders/ORD01", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "ORD01", "status": "at_terminal"})
	})
	mp := newMercadoPagoServer(t, mux)

	res, err := mp.StartCard(context.Background(), ChargeRequest{
		SessionID:      "s-1",
		Amount:         payment.NewAmount(12050),
		Kind:           payment.ChannelDebit,
		TerminalHint:   "PAX_A910__SMARTPOS1",
		Description:    "Venda PDV",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, res.Status)
	assert.Equal(t, "ORD01", res.Reference)
	assert.Equal(t, "at_terminal", res.RawStatus)

	assert.Equal(t, "point", body["type"])
	assert.Equal(t, "pdv-s-1", body["external_reference"])
	assert.Equal(t, "PT15M", body["expiration_time"])
	payments := body["transactions"].(map[string]any)["payments"].([]any)
	assert.Equal(t, "120.50", payments[0].(map[string]any)["amount"])
	config := body["config"].(map[string]any)
	assert.Equal(t, "PAX_A910__SMARTPOS1", config["point"].(map[string]any)["terminal_id"])
	assert.Equal(t, "debit_card", config["payment_method"].(map[string]any)["default_type"])
}

func TestMercadoPago_StartCardRequiresTerminal(t *testing.T) {
	mp := newMercadoPagoServer(t, http.NewServeMux())

	_, err := mp.StartCard(context.Background(), ChargeRequest{SessionID: "s-1", Amount: payment.NewAmount(100)})
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotConfigured)
}

func TestMercadoPago_StartCardQueuedOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": []map[string]string{{"code": "already_queued_order_on_terminal", "message": "terminal busy"}},
		})
	})
	mp := newMercadoPagoServer(t, mux)

	_, err := mp.StartCard(context.Background(), ChargeRequest{SessionID: "s-1", Amount: payment.NewAmount(100), TerminalHint: "T1"})
	assert.ErrorIs(t, err, domainErrors.ErrTerminalBusy)
}

func TestMercadoPago_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"conflict", http.StatusConflict, domainErrors.ErrTerminalBusy},
		{"bad credentials", http.StatusUnauthorized, domainErrors.ErrProviderNotConfigured},
		{"invalid order", http.StatusUnprocessableEntity, domainErrors.ErrProviderRejected},
		{"server error", http.StatusBadGateway, domainErrors.ErrProviderUnavailable},
		{"rate limited", http.StatusTooManyRequests, domainErrors.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /v1/orders/ORD01", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{"message": "nope"})
			})
			mp := newMercadoPagoServer(t, mux)

			_, err := mp.QueryStatus(context.Background(), "ORD01")
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestMercadoPago_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	srv.Close()
	mp, err := NewMercadoPago(MercadoPagoSettings{BaseURL: srv.URL, AccessToken: "t"})
	require.NoError(t, err)

	_, err = mp.QueryStatus(context.Background(), "ORD01")
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestMercadoPago_QueryStatusApproved(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/orders/ORD01", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "ORD01",
			"status": "processed",
			"transactions": map[string]any{"payments": []map[string]any{{
				"id":                 "PAY01",
				"status":             "processed",
				"reference_id":       "0001234",
				"authorization_code": "AB12",
				"payment_method":     map[string]string{"id": "master", "type": "credit_card"},
			}}},
		})
	})
	mp := newMercadoPagoServer(t, mux)

	res, err := mp.QueryStatus(context.Background(), "ORD01")
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteApproved, res.Status)
	assert.Equal(t, "0001234", res.NSU)
	assert.Equal(t, "master", res.Brand)
	assert.Equal(t, "AB12", res.AuthorizationCode)
}

func TestMercadoPago_StartPixReturnsQR(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qr", body["type"])
		assert.Equal(t, "CAIXA01", body["config"].(map[string]any)["qr"].(map[string]any)["external_pos_id"])
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": "ORD02", "status": "created",
			"type_response": map[string]string{"qr_data": "00020101021243650016COM.MERCADOLIBRE"},
		})
	})
	mux.HandleFunc("GET /v1/orders/ORD02", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "ORD02", "status": "created"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mp, err := NewMercadoPago(MercadoPagoSettings{BaseURL: srv.URL, AccessToken: "t", PixPOSID: "CAIXA01"})
	require.NoError(t, err)

	res, err := mp.StartPix(context.Background(), ChargeRequest{SessionID: "s-2", Amount: payment.NewAmount(990)})
	require.NoError(t, err)
	assert.Equal(t, payment.RemoteProcessing, res.Status)
	assert.Equal(t, "00020101021243650016COM.MERCADOLIBRE", res.QRPayload)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *res.ExpiresAt, time.Minute)
}

func TestMercadoPago_Cancel(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"canceled", "canceled", true},
		{"already processed", "processed", false},
		{"still at terminal", "at_terminal", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/orders/ORD01/cancel", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"id": "ORD01", "status": tt.status})
			})
			mp := newMercadoPagoServer(t, mux)

			ok, err := mp.Cancel(context.Background(), "ORD01")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMercadoPago_ClearQueueCancelsQueuedOrders(t *testing.T) {
	var cancels atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "T1", r.URL.Query().Get("terminal_id"))
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "ORD07", "status": "at_terminal"},
			{"id": "ORD08", "status": "processed"},
		}})
	})
	mux.HandleFunc("POST /v1/orders/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancels.Add(1)
		assert.Equal(t, "ORD07", r.PathValue("id"))
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "status": "canceled"})
	})
	mp := newMercadoPagoServer(t, mux)

	ok, err := mp.ClearQueue(context.Background(), "", "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), cancels.Load())
}

func TestMercadoPago_ClearQueueWithoutTarget(t *testing.T) {
	mp := newMercadoPagoServer(t, http.NewServeMux())

	ok, err := mp.ClearQueue(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}
