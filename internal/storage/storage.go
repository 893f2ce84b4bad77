package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
)

// Local Store keys. Values are JSON documents.
const (
	KeySavedItems      = "saved_items"
	KeyQuotaUsage      = "quota_usage"
	KeyOnboardingData  = "onboarding_data"
	KeyChatHistory     = "chat_history"
	KeyUserPreferences = "user_preferences"
)

// LocalKeys lists every key owned by the local store.
var LocalKeys = []string{
	KeySavedItems,
	KeyQuotaUsage,
	KeyOnboardingData,
	KeyChatHistory,
	KeyUserPreferences,
}

// ErrNotFound is returned when a remote row does not exist.
var ErrNotFound = errors.New("not found")

// LocalStore is the device-side key/value cache. It survives restarts and
// needs no network.
type LocalStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys ...string) error
	Close() error
}

// RemoteStore is the durable backend store. Every row is scoped by user id.
type RemoteStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, userID string, profile *models.Profile) error

	ListSavedItems(ctx context.Context, userID string) ([]models.SavedItem, error)
	UpsertSavedItem(ctx context.Context, userID string, item models.SavedItem) error
	DeleteSavedItem(ctx context.Context, userID, itemID string) error

	// GetLatestUsage returns the most recent counter of kind for the user.
	GetLatestUsage(ctx context.Context, userID string, kind models.QuotaKind) (*models.QuotaCounter, error)
	UpsertUsage(ctx context.Context, userID string, counter models.QuotaCounter) error

	ConversationStore

	Ping(ctx context.Context) error
	Close() error
}

// ConversationStore covers the conversations and messages tables.
type ConversationStore interface {
	// ListConversations returns the user's conversations, most recent activity first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	InsertConversation(ctx context.Context, conv *models.Conversation) error
	// DeactivateConversations clears is_active on every conversation of the user.
	DeactivateConversations(ctx context.Context, userID string) error
	ActivateConversation(ctx context.Context, userID, conversationID string) error
	TouchConversation(ctx context.Context, userID, conversationID string, at time.Time) error
	DeleteConversation(ctx context.Context, userID, conversationID string) error

	InsertMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the messages of a conversation, oldest first.
	ListMessages(ctx context.Context, userID, conversationID string) ([]models.Message, error)
}

// LoadJSON decodes the value stored under key into v. It reports false when
// the key is absent.
func LoadJSON(ctx context.Context, s LocalStore, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, s LocalStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
