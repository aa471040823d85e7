package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func authHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := GetOperatorID(r.Context()); ok {
			*seen = id
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   func(t *testing.T) string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing header",
			header:   func(*testing.T) string { return "" },
			wantCode: http.StatusUnauthorized,
			wantErr:  "auth_required",
		},
		{
			name:     "basic scheme",
			header:   func(*testing.T) string { return "Basic abc" },
			wantCode: http.StatusUnauthorized,
			wantErr:  "auth_invalid_scheme",
		},
		{
			name: "wrong secret",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, "another-secret-another-secret-xx", Claims{OperatorID: "op-1", Permissions: []string{"pos:sell"}})
			},
			wantCode: http.StatusUnauthorized,
			wantErr:  "auth_invalid",
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, testSecret, Claims{
					OperatorID:       "op-1",
					Permissions:      []string{"pos:sell"},
					RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
				})
			},
			wantCode: http.StatusUnauthorized,
			wantErr:  "auth_invalid",
		},
		{
			name: "missing permission",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, testSecret, Claims{OperatorID: "op-1", Permissions: []string{"pos:report"}})
			},
			wantCode: http.StatusForbidden,
			wantErr:  "forbidden",
		},
		{
			name: "other station",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, testSecret, Claims{OperatorID: "op-1", StationID: "caixa-9", Permissions: []string{"pos:sell"}})
			},
			wantCode: http.StatusForbidden,
			wantErr:  "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequireAuth(testSecret, "caixa-1", "pos:sell")(authHandler(&seen))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/authorize", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["code"])
			assert.Empty(t, seen)
		})
	}
}

func TestRequireAuth_Valid(t *testing.T) {
	var seen string
	handler := RequireAuth(testSecret, "caixa-1", "pos:sell")(authHandler(&seen))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/authorize", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, Claims{
		OperatorID: "op-7", StationID: "caixa-1", Permissions: []string{"pos:sell"},
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-7", seen)
}

func TestRequireAuth_DisabledWithoutSecret(t *testing.T) {
	var seen string
	handler := RequireAuth("", "caixa-1", "pos:sell")(authHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, seen)
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session", nil)
		req.RemoteAddr = "10.0.0.7:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_KeysByOperator(t *testing.T) {
	handler := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(operator string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session", nil)
		req.RemoteAddr = "10.0.0.7:5000"
		req = req.WithContext(context.WithValue(req.Context(), OperatorKey, operator))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("op-1"))
	assert.Equal(t, http.StatusOK, send("op-2"))
	assert.Equal(t, http.StatusTooManyRequests, send("op-1"))
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders("caixa-1")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "caixa-1", w.Header().Get("X-Station-ID"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
