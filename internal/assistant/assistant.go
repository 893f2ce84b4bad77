// Package assistant ties quota, completion, library and conversations into
// the user-facing generate and chat actions.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/completion"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

var ErrQuotaExceeded = errors.New("daily quota exceeded")

const titleLen = 60

type Quota interface {
	CanUse(ctx context.Context, kind models.QuotaKind) bool
	Increment(ctx context.Context, kind models.QuotaKind)
}

type Completer interface {
	StreamText(ctx context.Context, messages []openai.ChatCompletionMessage, onFragment func(string)) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type Library interface {
	Save(ctx context.Context, itemType models.ItemType, title string, payload []byte) (models.SavedItem, error)
}

type Profiles interface {
	Current(ctx context.Context) (*models.Profile, error)
	Preferences(ctx context.Context) models.Preferences
}

type Conversations interface {
	Current() (models.Conversation, bool)
	Create(ctx context.Context, title, emoji string) (models.Conversation, error)
	AddMessage(ctx context.Context, conversationID, content string, role models.Role) (models.Message, error)
	Messages() []models.Message
}

type Assistant struct {
	quota         Quota
	completer     Completer
	library       Library
	profiles      Profiles
	conversations Conversations
	logger        *zap.Logger
}

func New(quota Quota, completer Completer, library Library, profiles Profiles, conversations Conversations, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{
		quota:         quota,
		completer:     completer,
		library:       library,
		profiles:      profiles,
		conversations: conversations,
		logger:        logger,
	}
}

// profile returns the creator profile, or nil when it cannot be read.
func (a *Assistant) profile(ctx context.Context) *models.Profile {
	p, err := a.profiles.Current(ctx)
	if err != nil {
		a.logger.Warn("Generating without profile", zap.Error(err))
		return nil
	}
	return p
}

// Generate streams one artifact of itemType and saves it to the library.
func (a *Assistant) Generate(ctx context.Context, itemType models.ItemType, input string, onFragment func(string)) (models.SavedItem, error) {
	if !a.quota.CanUse(ctx, models.TextQuota) {
		return models.SavedItem{}, ErrQuotaExceeded
	}
	messages, err := completion.Prompt(itemType, a.profile(ctx), a.profiles.Preferences(ctx), input)
	if err != nil {
		return models.SavedItem{}, err
	}

	text, err := a.completer.StreamText(ctx, messages, onFragment)
	if err != nil {
		return models.SavedItem{}, fmt.Errorf("generate %s: %w", itemType, err)
	}
	a.quota.Increment(ctx, models.TextQuota)

	payload, err := sjson.SetBytes([]byte(`{}`), "input", input)
	if err == nil {
		payload, err = sjson.SetBytes(payload, "text", text)
	}
	if err != nil {
		return models.SavedItem{}, fmt.Errorf("encode %s payload: %w", itemType, err)
	}
	return a.library.Save(ctx, itemType, title(input), payload)
}

// GenerateImage creates an image for prompt and saves its URL to the library.
func (a *Assistant) GenerateImage(ctx context.Context, prompt string) (models.SavedItem, error) {
	if !a.quota.CanUse(ctx, models.ImageQuota) {
		return models.SavedItem{}, ErrQuotaExceeded
	}
	url, err := a.completer.GenerateImage(ctx, prompt)
	if err != nil {
		return models.SavedItem{}, fmt.Errorf("generate image: %w", err)
	}
	a.quota.Increment(ctx, models.ImageQuota)

	payload, err := sjson.SetBytes([]byte(`{}`), "prompt", prompt)
	if err == nil {
		payload, err = sjson.SetBytes(payload, "url", url)
	}
	if err != nil {
		return models.SavedItem{}, fmt.Errorf("encode image payload: %w", err)
	}
	return a.library.Save(ctx, models.ImageItem, title(prompt), payload)
}

// Chat appends content to the current conversation, starting one if needed,
// and streams the assistant's reply into it.
func (a *Assistant) Chat(ctx context.Context, content string, onFragment func(string)) (models.Message, error) {
	if !a.quota.CanUse(ctx, models.TextQuota) {
		return models.Message{}, ErrQuotaExceeded
	}

	conv, ok := a.conversations.Current()
	if !ok {
		var err error
		conv, err = a.conversations.Create(ctx, title(content), "")
		if err != nil {
			return models.Message{}, err
		}
	}
	if _, err := a.conversations.AddMessage(ctx, conv.ID, content, models.RoleUser); err != nil {
		return models.Message{}, err
	}

	messages := completion.ChatPrompt(a.profile(ctx), a.profiles.Preferences(ctx), a.conversations.Messages())
	reply, err := a.completer.StreamText(ctx, messages, onFragment)
	if err != nil {
		return models.Message{}, fmt.Errorf("chat reply: %w", err)
	}
	a.quota.Increment(ctx, models.TextQuota)

	return a.conversations.AddMessage(ctx, conv.ID, reply, models.RoleAssistant)
}

// title is the first line of s, cut to titleLen runes.
func title(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if utf8.RuneCountInString(s) <= titleLen {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:titleLen-1])) + "…"
}
