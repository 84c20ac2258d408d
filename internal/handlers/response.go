package handlers

import (
	"encoding/json"
	"net/http"

	"finanzas-backend/internal/features"
	"finanzas-backend/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// writeRender maps a render's state onto the HTTP status.
func writeRender(w http.ResponseWriter, r *http.Request, render features.Render) {
	switch render.State {
	case features.StateRejected:
		writeJSON(w, http.StatusUnprocessableEntity, render)
	case features.StateSuperseded:
		writeJSON(w, http.StatusConflict, errorResp("SUPERSEDED", "A newer request replaced this one", r))
	default:
		writeJSON(w, http.StatusOK, render)
	}
}
