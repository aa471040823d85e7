package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/pospay/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrStationLocked, http.StatusLocked, "station_locked"},
	{domainErrors.ErrAuthorizationInProgress, http.StatusConflict, "authorization_in_progress"},
	{domainErrors.ErrTerminalBusy, http.StatusConflict, "terminal_busy"},
	{domainErrors.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{domainErrors.ErrUnknownMethod, http.StatusBadRequest, "unknown_method"},
	{domainErrors.ErrChannelNotSupported, http.StatusBadRequest, "channel_not_supported"},
	{domainErrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domainErrors.ErrPaymentNotApproved, http.StatusConflict, "payment_not_approved"},
	{domainErrors.ErrAmountChanged, http.StatusConflict, "amount_changed"},
	{domainErrors.ErrSessionInvalidated, http.StatusConflict, "session_invalidated"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrProviderNotFound, http.StatusBadRequest, "provider_not_found"},
	{domainErrors.ErrProviderNotConfigured, http.StatusBadRequest, "provider_not_configured"},
	{domainErrors.ErrProviderRejected, http.StatusPaymentRequired, "provider_rejected"},
	{domainErrors.ErrProviderTimeout, http.StatusGatewayTimeout, "provider_timeout"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrOrchestratorClosed, http.StatusServiceUnavailable, "station_closed"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and code. Errors with no mapping are
// logged against the request and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
