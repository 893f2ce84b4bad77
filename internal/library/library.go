// Package library stores generated artifacts the user chose to keep.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

var ErrInvalidType = errors.New("invalid item type")

// Store is the remote side of the library.
type Store interface {
	ListSavedItems(ctx context.Context, userID string) ([]models.SavedItem, error)
	UpsertSavedItem(ctx context.Context, userID string, item models.SavedItem) error
	DeleteSavedItem(ctx context.Context, userID, itemID string) error
}

type Sessions interface {
	Current() models.Session
}

type Library struct {
	local    storage.LocalStore
	remote   Store
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time
}

func New(local storage.LocalStore, remote Store, sessions Sessions, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		local:    local,
		remote:   remote,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Save records a new artifact. A payload that is not JSON is kept as
// {"text": payload}.
func (l *Library) Save(ctx context.Context, itemType models.ItemType, title string, payload []byte) (models.SavedItem, error) {
	if !itemType.Valid() {
		return models.SavedItem{}, fmt.Errorf("%w: %q", ErrInvalidType, itemType)
	}
	if !gjson.ValidBytes(payload) {
		wrapped, err := sjson.SetBytes([]byte(`{}`), "text", string(payload))
		if err != nil {
			return models.SavedItem{}, fmt.Errorf("wrap payload: %w", err)
		}
		payload = wrapped
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = string(itemType)
	}

	item := models.SavedItem{
		ID:        uuid.New().String(),
		Type:      itemType,
		Title:     title,
		Payload:   json.RawMessage(payload),
		CreatedAt: l.now().UTC(),
	}

	items, err := l.localItems(ctx)
	if err != nil {
		return models.SavedItem{}, err
	}
	items = append([]models.SavedItem{item}, items...)
	if err := storage.SaveJSON(ctx, l.local, storage.KeySavedItems, items); err != nil {
		return models.SavedItem{}, fmt.Errorf("save item: %w", err)
	}

	if sess := l.sessions.Current(); sess.IsSignedIn() {
		if err := l.remote.UpsertSavedItem(ctx, sess.UserID, item); err != nil {
			l.logger.Warn("Failed to mirror saved item",
				zap.String("user_id", sess.UserID),
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
		}
	}
	return item, nil
}

// List returns saved items, newest first. Signed-in users read the remote
// table and fall back to the local copy when it is unreachable.
func (l *Library) List(ctx context.Context) ([]models.SavedItem, error) {
	if sess := l.sessions.Current(); sess.IsSignedIn() {
		items, err := l.remote.ListSavedItems(ctx, sess.UserID)
		if err == nil {
			return items, nil
		}
		l.logger.Warn("Listing local items instead of remote",
			zap.String("user_id", sess.UserID),
			zap.Error(err),
		)
	}

	items, err := l.localItems(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// Delete removes an item from both stores. Deleting an unknown id is not an
// error.
func (l *Library) Delete(ctx context.Context, itemID string) error {
	items, err := l.localItems(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	if len(kept) != len(items) {
		if err := storage.SaveJSON(ctx, l.local, storage.KeySavedItems, kept); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
	}

	if sess := l.sessions.Current(); sess.IsSignedIn() {
		err := l.remote.DeleteSavedItem(ctx, sess.UserID, itemID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete remote item %s: %w", itemID, err)
		}
	}
	return nil
}

// localItems decodes saved_items, dropping entries that do not decode.
func (l *Library) localItems(ctx context.Context) ([]models.SavedItem, error) {
	doc, ok, err := l.local.Get(ctx, storage.KeySavedItems)
	if err != nil {
		return nil, fmt.Errorf("read saved items: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		l.logger.Warn("Discarding unreadable saved items", zap.Error(err))
		return nil, nil
	}
	items := make([]models.SavedItem, 0, len(raw))
	for _, r := range raw {
		var item models.SavedItem
		if err := json.Unmarshal(r, &item); err != nil || item.ID == "" {
			l.logger.Warn("Skipping malformed saved item")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
