package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	appI18n "github.com/pavelanni/rater/internal/i18n"
	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/session"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	Hint    string   `json:"hint,omitempty"`
}

// fail maps err to a status code and a localized message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		ve *model.ValidationError
		le *model.LoadError
		pe *model.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   err.Error(),
			Message: appI18n.Td(ctx, "InvalidFields", map[string]any{"Fields": strings.Join(ve.Fields, ", ")}),
			Fields:  ve.Fields,
		})
		return
	case errors.As(err, &le):
		slog.Error("dataset load failed", "dataset", le.Dataset, "path", le.Path, "error", le.Err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:   err.Error(),
			Message: appI18n.Td(ctx, "DatasetLoadFailed", map[string]any{"Dataset": le.Dataset, "Path": le.Path}),
			Hint:    le.Hint(),
		})
		return
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, appI18n.T(ctx, "SessionNotFound"), err)
	case errors.Is(err, session.ErrSaveInFlight):
		writeError(w, r, http.StatusConflict, appI18n.T(ctx, "SaveInFlight"), err)
	case errors.Is(err, session.ErrUnknownCase):
		writeError(w, r, http.StatusNotFound, appI18n.T(ctx, "UnknownCase"), err)
	case errors.Is(err, session.ErrUnknownDataset):
		writeError(w, r, http.StatusNotFound, appI18n.T(ctx, "UnknownDataset"), err)
	case errors.As(err, &pe) && (pe.Op == "get" || pe.Op == "decode"):
		writeError(w, r, http.StatusServiceUnavailable, appI18n.T(ctx, "SessionUnavailable"), err)
	case errors.As(err, &pe):
		writeError(w, r, http.StatusServiceUnavailable, appI18n.T(ctx, "SaveFailed"), err)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, appI18n.T(ctx, "InternalError"), err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		slog.Warn("request error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	resp := errorResponse{Message: msg}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
