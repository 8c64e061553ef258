package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeServiceError maps domain errors onto HTTP statuses. Inconsistent
// states are logged loudly so operational tooling can flag them for
// reconciliation.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, database.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrPaymentExists),
		errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())

	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())

	case errors.Is(err, database.ErrInconsistent):
		slog.ErrorContext(r.Context(), "inconsistent state detected", "error", err)
		writeError(w, http.StatusInternalServerError, "inconsistent", err.Error())

	default:
		slog.ErrorContext(r.Context(), "internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
