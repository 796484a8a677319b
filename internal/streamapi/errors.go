package streamapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/internal/resource"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the core's error kinds to HTTP status codes (spec §6 table,
// §7 error kinds).
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, resource.ErrUnknownResource), errors.Is(err, resource.ErrUnknownInstance):
		return http.StatusNotFound
	case isValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, reactive.ErrCycleRejected), errors.Is(err, reactive.ErrDerivedWrite):
		return http.StatusBadRequest
	case isComputeError(err):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	var verr *resource.ValidationError
	return errors.As(err, &verr)
}

func isComputeError(err error) bool {
	var cerr *reactive.ComputeError
	return errors.As(err, &cerr)
}
