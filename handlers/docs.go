package handlers

import (
	_ "embed"
	"log/slog"
	"net/http"
)

//go:embed openapi.json
var openAPIDocument []byte

// OpenAPIDocument serves the API description read by the swagger UI.
func OpenAPIDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(openAPIDocument); err != nil {
		// Status is already sent; all that is left is to record it.
		slog.ErrorContext(r.Context(), "failed to write openapi document",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}
