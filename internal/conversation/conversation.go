// Package conversation manages the user's conversation list and keeps exactly
// one conversation active at a time.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultTitle = "New chat"
	DefaultEmoji = "💬"
)

var (
	ErrSignedOut   = errors.New("conversations require a signed-in user")
	ErrInvalidRole = errors.New("invalid message role")
	ErrEmpty       = errors.New("message content is empty")
)

// Error reports a failed remote operation. The in-memory state is unchanged
// when one is returned.
type Error struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *Error) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("conversation %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("conversation %s %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sessions is the part of the session manager the manager reads.
type Sessions interface {
	Current() models.Session
	Subscribe(fn func(models.Session)) (unsubscribe func())
}

// Manager owns the in-memory conversation list, the current conversation and
// its messages. Remote calls are issued one after another and no lock is held
// while they run; memory is only touched once every call has succeeded.
type Manager struct {
	remote   storage.ConversationStore
	local    storage.LocalStore
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	conversations []models.Conversation
	current       *models.Conversation
	messages      []models.Message
}

func NewManager(remote storage.ConversationStore, local storage.LocalStore, sessions Sessions, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		remote:   remote,
		local:    local,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	sessions.Subscribe(func(s models.Session) {
		if s.AuthState == models.SignedOut || s.AuthState == models.SignedIn {
			m.reset()
		}
	})
	return m
}

func (m *Manager) userID() (string, error) {
	s := m.sessions.Current()
	if !s.IsSignedIn() {
		return "", ErrSignedOut
	}
	return s.UserID, nil
}

// Load fetches the conversation list and adopts the active conversation as
// current.
func (m *Manager) Load(ctx context.Context) error {
	userID, err := m.userID()
	if err != nil {
		return err
	}

	convs, err := m.remote.ListConversations(ctx, userID)
	if err != nil {
		return &Error{Op: "load", Err: err}
	}
	sortByRecency(convs)

	var (
		current  *models.Conversation
		messages []models.Message
	)
	for i := range convs {
		if convs[i].IsActive {
			c := convs[i]
			current = &c
			break
		}
	}
	if current != nil {
		messages, err = m.remote.ListMessages(ctx, userID, current.ID)
		if err != nil {
			return &Error{Op: "load messages", ConversationID: current.ID, Err: err}
		}
	}

	m.mu.Lock()
	m.conversations = convs
	m.current = current
	m.messages = messages
	m.mu.Unlock()

	m.cache(ctx)
	return nil
}

// Create deactivates every conversation of the user and then inserts the new
// one as active.
func (m *Manager) Create(ctx context.Context, title, emoji string) (models.Conversation, error) {
	userID, err := m.userID()
	if err != nil {
		return models.Conversation{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if emoji == "" {
		emoji = DefaultEmoji
	}

	now := m.now()
	conv := models.Conversation{
		ID:            uuid.New().String(),
		UserID:        userID,
		Title:         title,
		Emoji:         emoji,
		IsActive:      true,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.remote.DeactivateConversations(ctx, userID); err != nil {
		return models.Conversation{}, &Error{Op: "create", Err: err}
	}
	if err := m.remote.InsertConversation(ctx, &conv); err != nil {
		return models.Conversation{}, &Error{Op: "create", ConversationID: conv.ID, Err: err}
	}

	m.mu.Lock()
	convs := make([]models.Conversation, 0, len(m.conversations)+1)
	convs = append(convs, conv)
	for _, c := range m.conversations {
		c.IsActive = false
		convs = append(convs, c)
	}
	m.conversations = convs
	current := conv
	m.current = &current
	m.messages = nil
	m.mu.Unlock()

	m.cache(ctx)
	m.logger.Info("Created conversation", zap.String("user_id", userID), zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Select makes conversationID the single active conversation and loads its
// messages.
func (m *Manager) Select(ctx context.Context, conversationID string) error {
	userID, err := m.userID()
	if err != nil {
		return err
	}

	m.mu.Lock()
	known := indexOf(m.conversations, conversationID) >= 0
	m.mu.Unlock()

	// A conversation this process has not listed yet must exist remotely
	// before anything is deactivated.
	var fetched []models.Conversation
	if !known {
		fetched, err = m.remote.ListConversations(ctx, userID)
		if err != nil {
			return &Error{Op: "select", ConversationID: conversationID, Err: err}
		}
		if indexOf(fetched, conversationID) < 0 {
			return &Error{Op: "select", ConversationID: conversationID, Err: storage.ErrNotFound}
		}
		sortByRecency(fetched)
	}

	if err := m.remote.DeactivateConversations(ctx, userID); err != nil {
		return &Error{Op: "select", ConversationID: conversationID, Err: err}
	}
	if err := m.remote.ActivateConversation(ctx, userID, conversationID); err != nil {
		return &Error{Op: "select", ConversationID: conversationID, Err: err}
	}
	messages, err := m.remote.ListMessages(ctx, userID, conversationID)
	if err != nil {
		return &Error{Op: "select", ConversationID: conversationID, Err: err}
	}

	m.mu.Lock()
	if fetched != nil {
		m.conversations = fetched
	}
	var current *models.Conversation
	for i := range m.conversations {
		m.conversations[i].IsActive = m.conversations[i].ID == conversationID
		if m.conversations[i].IsActive {
			c := m.conversations[i]
			current = &c
		}
	}
	m.current = current
	m.messages = messages
	m.mu.Unlock()

	m.cache(ctx)
	return nil
}

// AddMessage appends a message, advances the conversation's lastMessageAt and
// moves it to the front of the list.
func (m *Manager) AddMessage(ctx context.Context, conversationID, content string, role models.Role) (models.Message, error) {
	userID, err := m.userID()
	if err != nil {
		return models.Message{}, err
	}
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmpty
	}

	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Content:        content,
		Role:           role,
		CreatedAt:      m.now(),
	}
	if err := m.remote.InsertMessage(ctx, &msg); err != nil {
		return models.Message{}, &Error{Op: "add message", ConversationID: conversationID, Err: err}
	}
	if err := m.remote.TouchConversation(ctx, userID, conversationID, msg.CreatedAt); err != nil {
		return models.Message{}, &Error{Op: "add message", ConversationID: conversationID, Err: err}
	}

	m.mu.Lock()
	for i := range m.conversations {
		if m.conversations[i].ID == conversationID {
			m.conversations[i].LastMessageAt = msg.CreatedAt
			m.conversations[i].UpdatedAt = msg.CreatedAt
		}
	}
	sortByRecency(m.conversations)
	if m.current != nil && m.current.ID == conversationID {
		m.current.LastMessageAt = msg.CreatedAt
		m.current.UpdatedAt = msg.CreatedAt
		m.messages = append(m.messages, msg)
	}
	m.mu.Unlock()

	m.cache(ctx)
	return msg, nil
}

// Delete removes a conversation. Its messages go with it.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	userID, err := m.userID()
	if err != nil {
		return err
	}
	if err := m.remote.DeleteConversation(ctx, userID, conversationID); err != nil {
		return &Error{Op: "delete", ConversationID: conversationID, Err: err}
	}

	m.mu.Lock()
	convs := m.conversations[:0]
	for _, c := range m.conversations {
		if c.ID != conversationID {
			convs = append(convs, c)
		}
	}
	m.conversations = convs
	if m.current != nil && m.current.ID == conversationID {
		m.current = nil
		m.messages = nil
	}
	m.mu.Unlock()

	m.cache(ctx)
	return nil
}

// Conversations returns a copy of the list, most recent activity first.
func (m *Manager) Conversations() []models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Conversation(nil), m.conversations...)
}

// Current returns the current conversation, if any.
func (m *Manager) Current() (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.Conversation{}, false
	}
	return *m.current, true
}

// Messages returns the current conversation's messages, oldest first.
func (m *Manager) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages...)
}

// Cached returns the conversation list last written to the local store. It
// lets a UI render the sidebar before the remote store answers.
func (m *Manager) Cached(ctx context.Context) []models.Conversation {
	var convs []models.Conversation
	if _, err := storage.LoadJSON(ctx, m.local, storage.KeyChatHistory, &convs); err != nil {
		m.logger.Warn("Ignoring unreadable chat history cache", zap.Error(err))
		return nil
	}
	return convs
}

func (m *Manager) cache(ctx context.Context) {
	convs := m.Conversations()
	if err := storage.SaveJSON(ctx, m.local, storage.KeyChatHistory, convs); err != nil {
		m.logger.Warn("Failed to cache chat history", zap.Error(err))
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = nil
	m.current = nil
	m.messages = nil
}

func indexOf(convs []models.Conversation, id string) int {
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

func sortByRecency(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
}
