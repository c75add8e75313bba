package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// errMalformedBody covers JSON decode failures before the engine is reached.
var errMalformedBody = errors.New("malformed request body")

// statusForError maps the engine's sentinel errors onto HTTP status codes.
// Caller mistakes are 4xx, funded-state violations are 422, missing oracle
// data is 503 so clients know to retry.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errMalformedBody),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidAddress),
		errors.Is(err, lending.ErrInvalidRateMode):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrReserveNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrReserveExists),
		errors.Is(err, lending.ErrReserveInactive):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrHealthFactorTooLow),
		errors.Is(err, lending.ErrNotLiquidatable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
