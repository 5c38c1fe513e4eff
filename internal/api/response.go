package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of every non-2xx response. CorrelationID
// echoes the X-Correlation-ID header so a client can quote it when
// reporting a failed submission.
type errorBody struct {
	Error         string   `json:"error"`
	Details       []string `json:"details,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{
		Error:         message,
		CorrelationID: w.Header().Get(correlationHeader),
	})
}

// respondValidationErrors answers 400 with one detail per rejected field.
func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, errorBody{
		Error:         "validation_failed",
		Details:       details,
		CorrelationID: w.Header().Get(correlationHeader),
	})
}
