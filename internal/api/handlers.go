package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/session"
	"go.uber.org/zap"
)

type sessionResponse struct {
	State  models.AuthState `json:"state"`
	UserID string           `json:"user_id,omitempty"`
}

func toSessionResponse(s models.Session) sessionResponse {
	return sessionResponse{State: s.AuthState, UserID: s.UserID}
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if err := decode(w, r, &creds); err != nil {
		h.writeError(w, r, err)
		return
	}
	if creds.AccessToken == "" {
		h.writeError(w, r, fmt.Errorf("%w: access_token is required", errBadRequest))
		return
	}
	s, err := h.Sessions.SignIn(r.Context(), creds)
	if errors.Is(err, session.ErrTransitionInProgress) {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.SignOut(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(h.Sessions.Current()))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.Sessions.Current()))
}

type usageResponse struct {
	Count     int  `json:"count"`
	Max       int  `json:"max"`
	Remaining int  `json:"remaining"`
	CanUse    bool `json:"can_use"`
	IsPro     bool `json:"is_pro"`
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	out := make(map[models.QuotaKind]usageResponse, 2)
	for _, kind := range []models.QuotaKind{models.TextQuota, models.ImageQuota} {
		u := h.Quota.Usage(r.Context(), kind)
		out[kind] = usageResponse{
			Count:     u.Count,
			Max:       u.Max,
			Remaining: u.Remaining,
			CanUse:    h.Quota.CanUse(r.Context(), kind),
			IsPro:     u.IsPro,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profiles.Current(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Profiles.Save(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Profiles.Preferences(r.Context()))
}

func (h *Handler) putPreferences(w http.ResponseWriter, r *http.Request) {
	prefs := h.Profiles.Preferences(r.Context())
	if err := decode(w, r, &prefs); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Profiles.SavePreferences(r.Context(), prefs); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Library.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.SavedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type createItemRequest struct {
	Type    models.ItemType `json:"type"`
	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Library.Save(r.Context(), req.Type, req.Title, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Library.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Load(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(h.Conversations.Conversations()))
}

func (h *Handler) cachedConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.Conversations.Cached(r.Context())))
}

type createConversationRequest struct {
	Title string `json:"title"`
	Emoji string `json:"emoji"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	conv, err := h.Conversations.Create(r.Context(), req.Title, req.Emoji)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) selectConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Select(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	conv, _ := h.Conversations.Current()
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) currentMessages(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Current().IsSignedIn() {
		h.writeError(w, r, session.ErrSignedOut)
		return
	}
	msgs := h.Conversations.Messages()
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func nonNil(convs []models.Conversation) []models.Conversation {
	if convs == nil {
		return []models.Conversation{}
	}
	return convs
}

type chatRequest struct {
	Content string `json:"content"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, r, fmt.Errorf("%w: content is required", errBadRequest))
		return
	}

	sse := newSSEWriter(w)
	msg, err := h.Assistant.Chat(r.Context(), req.Content, sse.fragment)
	h.finish(w, r, sse, msg, err)
}

type generateRequest struct {
	Type  models.ItemType `json:"type"`
	Input string          `json:"input"`
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !req.Type.Valid() || req.Type == models.ImageItem {
		h.writeError(w, r, fmt.Errorf("%w: unsupported type %q", errBadRequest, req.Type))
		return
	}

	sse := newSSEWriter(w)
	item, err := h.Assistant.Generate(r.Context(), req.Type, req.Input, sse.fragment)
	h.finish(w, r, sse, item, err)
}

// finish ends a streamed response with a done or error event. Before any
// fragment was sent it answers with a regular JSON status instead.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, sse *sseWriter, result any, err error) {
	if err != nil {
		if !sse.started {
			h.writeError(w, r, err)
			return
		}
		if r.Context().Err() != nil {
			return
		}
		h.logFailure(r, statusFor(err), err)
		_ = sse.event("error", errorBody{Error: err.Error()})
		return
	}
	if err := sse.event("done", result); err != nil {
		h.Logger.Warn("Failed to finish stream", zap.Error(err))
	}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) generateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(w, r, fmt.Errorf("%w: prompt is required", errBadRequest))
		return
	}
	item, err := h.Assistant.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
