package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"github.com/tidwall/gjson"
)

type stubSessions struct{ session models.Session }

func (s *stubSessions) Current() models.Session { return s.session }

type downStore struct{ *storage.MemoryStorage }

func (downStore) ListSavedItems(context.Context, string) ([]models.SavedItem, error) {
	return nil, errors.New("offline")
}

func (downStore) UpsertSavedItem(context.Context, string, models.SavedItem) error {
	return errors.New("offline")
}

func newLibrary(remote Store, session models.Session) (*Library, *storage.MemoryLocalStore) {
	local := storage.NewMemoryLocalStore()
	lib := New(local, remote, &stubSessions{session: session}, nil)
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	var tick int
	lib.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return lib, local
}

var guestSession = models.Session{AuthState: models.SignedOut}

func TestSaveAndListAsGuest(t *testing.T) {
	ctx := context.Background()
	lib, _ := newLibrary(storage.NewMemoryStorage(), guestSession)

	first, err := lib.Save(ctx, models.HookItem, "Hooks", []byte(`{"hooks":["a","b"]}`))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := lib.Save(ctx, models.CaptionItem, "", []byte("just text"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if second.Title != "caption" {
		t.Errorf("title = %q, want type as default", second.Title)
	}
	if got := gjson.GetBytes(second.Payload, "text").String(); got != "just text" {
		t.Errorf("plain payload not wrapped: %s", second.Payload)
	}

	items, err := lib.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestSaveRejectsUnknownType(t *testing.T) {
	lib, _ := newLibrary(storage.NewMemoryStorage(), guestSession)
	if _, err := lib.Save(context.Background(), models.ItemType("poem"), "x", []byte(`{}`)); !errors.Is(err, ErrInvalidType) {
		t.Errorf("want ErrInvalidType, got %v", err)
	}
}

func TestSignedInMirrorsAndListsRemote(t *testing.T) {
	ctx := context.Background()
	remote := storage.NewMemoryStorage()
	lib, _ := newLibrary(remote, models.Session{AuthState: models.SignedIn, UserID: "u1"})

	item, err := lib.Save(ctx, models.ScriptItem, "Script", []byte(`{"script":"..."}`))
	if err != nil {
		t.Fatal(err)
	}
	mirrored, _ := remote.ListSavedItems(ctx, "u1")
	if len(mirrored) != 1 || mirrored[0].ID != item.ID {
		t.Fatalf("remote = %+v", mirrored)
	}

	if err := lib.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if left, _ := remote.ListSavedItems(ctx, "u1"); len(left) != 0 {
		t.Errorf("remote still has %+v", left)
	}
	if left, _ := lib.List(ctx); len(left) != 0 {
		t.Errorf("list still has %+v", left)
	}
}

func TestListFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	lib, _ := newLibrary(downStore{storage.NewMemoryStorage()}, models.Session{AuthState: models.SignedIn, UserID: "u1"})

	item, err := lib.Save(ctx, models.RewriteItem, "Rewrite", []byte(`{"text":"x"}`))
	if err != nil {
		t.Fatalf("Save should succeed when the mirror fails: %v", err)
	}
	items, err := lib.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Errorf("items = %+v", items)
	}
}

func TestMalformedLocalEntriesAreSkipped(t *testing.T) {
	ctx := context.Background()
	lib, local := newLibrary(storage.NewMemoryStorage(), guestSession)

	doc := `[{"id":"a","type":"hook","title":"ok","payload":{},"created_at":"2026-10-01T00:00:00Z"},42,{"title":"no id"}]`
	if err := local.Set(ctx, storage.KeySavedItems, doc); err != nil {
		t.Fatal(err)
	}
	items, err := lib.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Errorf("items = %+v", items)
	}

	if err := local.Set(ctx, storage.KeySavedItems, "garbage"); err != nil {
		t.Fatal(err)
	}
	if items, err := lib.List(ctx); err != nil || len(items) != 0 {
		t.Errorf("List on garbage = %+v, %v", items, err)
	}
}
