package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
)

// MemoryLocalStore is a LocalStore kept in process memory.
type MemoryLocalStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{values: make(map[string]string)}
}

func (s *MemoryLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryLocalStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

func (s *MemoryLocalStore) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *MemoryLocalStore) MultiRemove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *MemoryLocalStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

type usageKey struct {
	userID string
	kind   models.QuotaKind
	day    string
}

// MemoryStorage is a RemoteStore kept in process memory. It backs tests and
// the "memory" database driver.
type MemoryStorage struct {
	mu            sync.RWMutex
	profiles      map[string]models.Profile
	items         map[string]map[string]models.SavedItem
	usage         map[usageKey]models.QuotaCounter
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		profiles:      make(map[string]models.Profile),
		items:         make(map[string]map[string]models.SavedItem),
		usage:         make(map[usageKey]models.QuotaCounter),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

// Profile methods
func (s *MemoryStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Platforms = append([]string(nil), p.Platforms...)
	return &p, nil
}

func (s *MemoryStorage) UpsertProfile(ctx context.Context, userID string, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *profile
	p.Platforms = append([]string(nil), profile.Platforms...)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.profiles[userID] = p
	return nil
}

// Saved item methods
func (s *MemoryStorage) ListSavedItems(ctx context.Context, userID string) ([]models.SavedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.SavedItem, 0, len(s.items[userID]))
	for _, item := range s.items[userID] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStorage) UpsertSavedItem(ctx context.Context, userID string, item models.SavedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items[userID] == nil {
		s.items[userID] = make(map[string]models.SavedItem)
	}
	s.items[userID][item.ID] = item
	return nil
}

func (s *MemoryStorage) DeleteSavedItem(ctx context.Context, userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items[userID], itemID)
	return nil
}

// Usage methods
func (s *MemoryStorage) GetLatestUsage(ctx context.Context, userID string, kind models.QuotaKind) (*models.QuotaCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.QuotaCounter
	for k, c := range s.usage {
		if k.userID != userID || k.kind != kind {
			continue
		}
		if latest == nil || c.Day > latest.Day {
			c := c
			latest = &c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStorage) UpsertUsage(ctx context.Context, userID string, counter models.QuotaCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage[usageKey{userID: userID, kind: counter.Kind, day: counter.Day}] = counter
	return nil
}

// Conversation methods
func (s *MemoryStorage) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []models.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			convs = append(convs, c)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	return convs, nil
}

func (s *MemoryStorage) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = *conv
	return nil
}

func (s *MemoryStorage) DeactivateConversations(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, c := range s.conversations {
		if c.UserID == userID && c.IsActive {
			c.IsActive = false
			c.UpdatedAt = now
			s.conversations[id] = c
		}
	}
	return nil
}

func (s *MemoryStorage) ActivateConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	c.IsActive = true
	c.UpdatedAt = time.Now()
	s.conversations[conversationID] = c
	return nil
}

func (s *MemoryStorage) TouchConversation(ctx context.Context, userID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	c.LastMessageAt = at
	c.UpdatedAt = at
	s.conversations[conversationID] = c
	return nil
}

func (s *MemoryStorage) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

// Message methods
func (s *MemoryStorage) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok || c.UserID != msg.UserID {
		return ErrNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []models.Message
	for _, m := range s.messages[conversationID] {
		if m.UserID == userID {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
