package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors shared across transport handlers.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps transport-level errors to HTTP responses using RFC7807.
// Domain-specific errors are mapped inside each handler; anything that
// reaches this function unmatched becomes an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
