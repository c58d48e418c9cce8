package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tablestakes/platform/internal/domain"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Error     string              `json:"error"`
	Code      string              `json:"code"`
	RequestID string              `json:"requestId,omitempty"`
	Details   []domain.FieldError `json:"details,omitempty"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// RespondError writes the error envelope, detecting domain.AppError for
// status codes and field details.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())
	if appErr, ok := err.(*domain.AppError); ok {
		RespondJSON(w, appErr.Status, errorEnvelope{
			Error:     appErr.Message,
			Code:      appErr.Code,
			RequestID: requestID,
			Details:   appErr.Details,
		})
		return
	}
	RespondJSON(w, http.StatusInternalServerError, errorEnvelope{
		Error:     "internal server error",
		Code:      "INTERNAL_ERROR",
		RequestID: requestID,
	})
}

// DecodeJSON reads and decodes a JSON request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
