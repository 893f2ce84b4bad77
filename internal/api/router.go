// Package api exposes the app core over a local HTTP interface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/session"
	"go.uber.org/zap"
)

// maxRequestBodySize bounds every JSON request body (1MB).
const maxRequestBodySize = 1 << 20

type Sessions interface {
	Current() models.Session
	SignIn(ctx context.Context, creds session.Credentials) (models.Session, error)
	SignOut(ctx context.Context) error
}

type Quota interface {
	Usage(ctx context.Context, kind models.QuotaKind) models.Usage
	CanUse(ctx context.Context, kind models.QuotaKind) bool
}

type Profiles interface {
	Current(ctx context.Context) (*models.Profile, error)
	Save(ctx context.Context, p models.Profile) (models.Profile, error)
	Preferences(ctx context.Context) models.Preferences
	SavePreferences(ctx context.Context, prefs models.Preferences) error
}

type Library interface {
	Save(ctx context.Context, itemType models.ItemType, title string, payload []byte) (models.SavedItem, error)
	List(ctx context.Context) ([]models.SavedItem, error)
	Delete(ctx context.Context, itemID string) error
}

type Conversations interface {
	Load(ctx context.Context) error
	Create(ctx context.Context, title, emoji string) (models.Conversation, error)
	Select(ctx context.Context, conversationID string) error
	Delete(ctx context.Context, conversationID string) error
	Conversations() []models.Conversation
	Current() (models.Conversation, bool)
	Messages() []models.Message
	Cached(ctx context.Context) []models.Conversation
}

type Assistant interface {
	Generate(ctx context.Context, itemType models.ItemType, input string, onFragment func(string)) (models.SavedItem, error)
	GenerateImage(ctx context.Context, prompt string) (models.SavedItem, error)
	Chat(ctx context.Context, content string, onFragment func(string)) (models.Message, error)
}

// Handler serves the local API.
type Handler struct {
	Sessions      Sessions
	Quota         Quota
	Profiles      Profiles
	Library       Library
	Conversations Conversations
	Assistant     Assistant
	Logger        *zap.Logger
}

// NewRouter builds the routes and middleware around h.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signin", h.signIn)
		r.Post("/auth/signout", h.signOut)
		r.Get("/session", h.session)
		r.Get("/usage", h.usage)

		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.putProfile)
		r.Get("/preferences", h.getPreferences)
		r.Put("/preferences", h.putPreferences)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.listItems)
			r.Post("/", h.createItem)
			r.Delete("/{id}", h.deleteItem)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/", h.createConversation)
			r.Get("/cached", h.cachedConversations)
			r.Get("/current/messages", h.currentMessages)
			r.Post("/{id}/select", h.selectConversation)
			r.Delete("/{id}", h.deleteConversation)
		})

		r.Post("/chat", h.chat)
		r.Post("/generate", h.generate)
		r.Post("/images", h.generateImage)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
