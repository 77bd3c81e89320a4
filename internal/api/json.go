package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/scivault/internal/apperr"
	"github.com/starford/scivault/internal/reassembly"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, op, doi string, err error) {
	var ce *reassembly.ChunkError
	switch {
	case errors.Is(err, apperr.ErrInvalidDOI):
		writeJSON(w, http.StatusBadRequest, errorBody("doi is required"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrUnknownVersion):
		writeJSON(w, http.StatusNotFound, errorBody("unknown version"))
	case errors.As(err, &ce):
		slog.Warn(op+" failed", slog.String("doi", doi), slog.Int("chunk_index", ce.Index), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ChunkErrorResponse{
			Error:      "chunk fetch failed",
			DOI:        doi,
			ChunkIndex: ce.Index,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("store timeout"))
	default:
		slog.Error(op+" failed", slog.String("doi", doi), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
