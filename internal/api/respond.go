package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/assistant"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/completion"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/conversation"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/identity"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/library"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/session"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/stream"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a core error onto an HTTP status.
func statusFor(err error) int {
	var (
		convErr     *conversation.Error
		upstreamErr *stream.UpstreamError
		statusErr   *completion.StatusError
	)
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, library.ErrInvalidType),
		errors.Is(err, conversation.ErrInvalidRole),
		errors.Is(err, conversation.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, assistant.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, conversation.ErrSignedOut),
		errors.Is(err, session.ErrSignedOut),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrTransitionInProgress):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &convErr),
		errors.As(err, &upstreamErr),
		errors.As(err, &statusErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	h.logFailure(r, status, err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (h *Handler) logFailure(r *http.Request, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	h.Logger.Error("Request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
