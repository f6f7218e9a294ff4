package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/beacon-relay/brc/internal/medium"
)

// WriteActionError maps relay and medium errors onto the API error vocabulary.
func WriteActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, medium.ErrBusy):
		WriteError(w, http.StatusServiceUnavailable, "BUSY",
			"Service busy, retry with backoff", nil)
	case errors.Is(err, medium.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Radio stack unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "TIMEOUT",
			"Operation timed out", nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Internal server error", nil)
	}
}
