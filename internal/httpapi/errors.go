package httpapi

import (
	"encoding/json"
	"net/http"

	"pricingd/internal/deploy"
	"pricingd/internal/registry"
	"pricingd/internal/serving"
	"pricingd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case registry.IsVersionNotFound(err):
		return http.StatusNotFound
	case registry.IsValidationError(err):
		return http.StatusBadRequest
	case deploy.IsRequirementNotMet(err), deploy.IsCheckFailed(err):
		return http.StatusPreconditionFailed
	case deploy.IsInsufficientHistory(err):
		return http.StatusConflict
	case serving.IsNoModelLoaded(err):
		return http.StatusServiceUnavailable
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}
