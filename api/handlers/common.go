// Package handlers implements the HTTP endpoints of the exchange API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/stockex/api/types"
	exchtypes "github.com/openalpha/stockex/exchange/types"
)

// errorSpec pins a domain error to its wire code and HTTP status.
type errorSpec struct {
	code   string
	status int
}

// classify maps a domain error to its stable wire code and HTTP status.
func classify(err error) errorSpec {
	switch {
	case exchtypes.ErrInvalidParameters.Is(err):
		return errorSpec{"INVALID_PARAMETERS", http.StatusBadRequest}
	case exchtypes.ErrUnauthorized.Is(err):
		return errorSpec{"UNAUTHORIZED", http.StatusUnauthorized}
	case exchtypes.ErrForbidden.Is(err):
		return errorSpec{"FORBIDDEN", http.StatusForbidden}
	case exchtypes.ErrNotFound.Is(err):
		return errorSpec{"NOT_FOUND", http.StatusNotFound}
	case exchtypes.ErrConflict.Is(err):
		return errorSpec{"CONFLICT", http.StatusConflict}
	case exchtypes.ErrInsufficientFunds.Is(err):
		return errorSpec{"INSUFFICIENT_FUNDS", http.StatusBadRequest}
	case exchtypes.ErrInsufficientShares.Is(err):
		return errorSpec{"INSUFFICIENT_SHARES", http.StatusBadRequest}
	case exchtypes.ErrSettlementFailed.Is(err):
		return errorSpec{"SETTLEMENT_FAILED", http.StatusInternalServerError}
	case exchtypes.ErrRateLimited.Is(err):
		return errorSpec{"RATE_LIMITED", http.StatusTooManyRequests}
	default:
		return errorSpec{"INTERNAL_ERROR", http.StatusInternalServerError}
	}
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a domain error as the uniform error envelope.
func WriteError(w http.ResponseWriter, err error) {
	spec := classify(err)
	WriteJSON(w, spec.status, types.ErrorResponse{
		Error: types.ErrorBody{
			Code:    spec.code,
			Message: err.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
}

// WriteInvalid writes an INVALID_PARAMETERS envelope with a plain message.
func WriteInvalid(w http.ResponseWriter, message string) {
	WriteError(w, exchtypes.ErrInvalidParameters.Wrap(message))
}

// WriteMethodNotAllowed writes the 405 envelope.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{
		Error: types.ErrorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
		},
		Timestamp: time.Now().UTC(),
	})
}

// parseDec parses a positive decimal string field.
func parseDec(field, value string) (math.LegacyDec, error) {
	d, err := math.LegacyNewDecFromStr(value)
	if err != nil {
		return math.LegacyDec{}, exchtypes.ErrInvalidParameters.Wrapf("%s is not a valid decimal", field)
	}
	return d, nil
}

// notFoundEndpoint builds the NOT_FOUND error for an unknown sub-resource.
func notFoundEndpoint(endpoint string) error {
	return exchtypes.ErrNotFound.Wrapf("unknown endpoint %q", endpoint)
}

// splitPath extracts "{head}" and "{rest}" from what follows a route prefix.
func splitPath(path string) (head, rest string) {
	for i, c := range path {
		if c == '/' {
			return path[:i], path[i+1:]
		}
	}
	return path, ""
}
