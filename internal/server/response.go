// Package-internal helpers for turning a handler's (output, error) pair into
// the wire response: a JSON body plus the status/code the dto layer attached
// to the error, or 200/500 defaults.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hAIvemind-dev/haivemind/internal/server/dto"
)

// respondError writes the structured JSON error envelope. err's status code,
// machine-readable code, and detail map come from dto.ErrorWithStatus when it
// implements that interface; anything else is reported as a plain 500.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := dto.CodeInternalError
	var details map[string]any

	var classified dto.ErrorWithStatus
	if errors.As(err, &classified) {
		status = classified.StatusCode()
		code = classified.Code()
		details = classified.Details()
	}

	slog.Error("request failed", "err", err, "status", status, "code", code)
	writeJSON(w, status, dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: code, Message: err.Error()},
		Details: details,
	})
}

// respond writes a 200 JSON body on success, or delegates to respondError.
// Generic over the handler's output type so callers never hand-roll the
// err-vs-body branch.
func respond[Out any](w http.ResponseWriter, out *Out, err error) {
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeJSON is the one place that sets the content-type header and encodes a
// body, so every response path logs encode failures the same way.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response body", "err", err)
	}
}
