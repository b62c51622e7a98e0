package handlers

import (
	"errors"
	"net/http"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	"github.com/aistylehub/tokenledger/internal/api/validate"
	"github.com/aistylehub/tokenledger/internal/services"
)

// writeServiceError maps the service failure taxonomy onto HTTP. Anything
// unrecognized is a 500 with no internals leaked.
func writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *services.InsufficientBalanceError
	var fields validate.Errs

	switch {
	case errors.As(err, &insufficient):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", "insufficient token balance", insufficient)
	case errors.As(err, &fields):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", fields.Error(), fields)
	case errors.Is(err, services.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentDeclined):
		httpx.WriteError(w, http.StatusPaymentRequired, "payment_declined", err.Error(), nil)
	case errors.Is(err, services.ErrNotCompleted):
		httpx.WriteError(w, http.StatusPaymentRequired, "payment_not_completed", "payment not completed", nil)
	case errors.Is(err, services.ErrProviderUnavailable):
		httpx.WriteError(w, http.StatusBadGateway, "provider_unavailable", "payment provider unavailable", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
