// Package api provides HTTP response utilities for PushRelay.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorJSON is served when a response value fails to marshal. It is a
// raw literal matching the models.APIResponse shape so the failure path cannot
// itself fail.
const fallbackErrorJSON = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse writes a JSON response with the given status code.
// The payload is marshaled before any header is written so an encoding
// failure can still downgrade the status to 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = []byte(fallbackErrorJSON)
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
