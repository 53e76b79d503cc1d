package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/gmb-sync/internal/errors"
	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps err to its category status. Internal causes are logged, not returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	svcErr := catErr.ToServiceError()
	logger := logging.FromContext(r.Context()).WithError(err)

	switch {
	case apperrors.IsSystemError(err):
		logger.Error("[API] Request failed")
		if catErr.Category == apperrors.CategorySystem {
			svcErr.Message = "An internal error occurred"
		}
	case apperrors.IsUserError(err):
		logger.WithField("code", svcErr.Code).Debug("[API] Request rejected")
	}

	respondError(w, apperrors.GetHTTPStatusCode(err), svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrCodeInternalError is returned when a handler panics
const ErrCodeInternalError = "INTERNAL_ERROR"
