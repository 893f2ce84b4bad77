package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
)

type stubSessions struct {
	mu        sync.Mutex
	session   models.Session
	listeners []func(models.Session)
}

func (s *stubSessions) Current() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *stubSessions) Subscribe(fn func(models.Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	return func() {}
}

func (s *stubSessions) set(session models.Session) {
	s.mu.Lock()
	s.session = session
	listeners := append([]func(models.Session){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(session)
	}
}

func guest() *stubSessions {
	return &stubSessions{session: models.Session{AuthState: models.SignedOut}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func newEngine(local storage.LocalStore, remote storage.RemoteStore, sessions Sessions, clock *fakeClock) *Engine {
	return NewEngine(local, remote, sessions, nil, WithClock(clock.Now), WithLocation(time.UTC))
}

func TestIncrementCountsAndGates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(storage.NewMemoryLocalStore(), storage.NewMemoryStorage(), guest(), newClock())

	for n := 1; n <= MaxText; n++ {
		if !e.CanUse(ctx, models.TextQuota) {
			t.Fatalf("CanUse false before increment %d", n)
		}
		e.Increment(ctx, models.TextQuota)
		u := e.Usage(ctx, models.TextQuota)
		if u.Count != n {
			t.Fatalf("after %d increments count = %d", n, u.Count)
		}
		if u.Remaining != MaxText-n {
			t.Fatalf("after %d increments remaining = %d", n, u.Remaining)
		}
	}
	if e.CanUse(ctx, models.TextQuota) {
		t.Fatal("CanUse should be false once count reaches max")
	}
	if !e.CanUse(ctx, models.ImageQuota) {
		t.Fatal("image quota is independent of text quota")
	}
}

func TestConcurrentIncrementsAreAllCounted(t *testing.T) {
	t.Parallel()

	sessions := map[string]*stubSessions{
		"guest":     guest(),
		"signed in": {session: models.Session{AuthState: models.SignedIn, UserID: "u1"}},
	}
	for name, sess := range sessions {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			e := newEngine(storage.NewMemoryLocalStore(), storage.NewMemoryStorage(), sess, newClock())

			var wg sync.WaitGroup
			for i := 0; i < MaxText; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					e.Increment(ctx, models.TextQuota)
				}()
			}
			wg.Wait()

			if got := e.Usage(ctx, models.TextQuota).Count; got != MaxText {
				t.Errorf("count = %d, want %d", got, MaxText)
			}
			if e.CanUse(ctx, models.TextQuota) {
				t.Error("CanUse should be false after the limit was reached concurrently")
			}
		})
	}
}

func TestImageQuotaAllowsOnePerDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(storage.NewMemoryLocalStore(), storage.NewMemoryStorage(), guest(), newClock())

	e.Increment(ctx, models.ImageQuota)
	if e.CanUse(ctx, models.ImageQuota) {
		t.Fatal("expected image quota to be exhausted after one use")
	}
	if got := e.Remaining(ctx, models.ImageQuota); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestCounterResetsOnNewDay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	local := storage.NewMemoryLocalStore()
	e := newEngine(local, storage.NewMemoryStorage(), guest(), clock)

	for i := 0; i < 4; i++ {
		e.Increment(ctx, models.TextQuota)
	}
	clock.advance(24 * time.Hour)

	if u := e.Usage(ctx, models.TextQuota); u.Count != 0 || u.Remaining != MaxText {
		t.Fatalf("expected fresh counter on new day, got %+v", u)
	}

	counters := map[models.QuotaKind]models.QuotaCounter{}
	if _, err := storage.LoadJSON(ctx, local, storage.KeyQuotaUsage, &counters); err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}
	if c := counters[models.TextQuota]; c.Day != "2026-10-16" || c.Count != 0 {
		t.Fatalf("expected reset counter persisted for new day, got %+v", c)
	}
}

func TestResetAcrossEngineRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	local := storage.NewMemoryLocalStore()

	newEngine(local, storage.NewMemoryStorage(), guest(), clock).Increment(ctx, models.TextQuota)

	restarted := newEngine(local, storage.NewMemoryStorage(), guest(), clock)
	if got := restarted.Usage(ctx, models.TextQuota).Count; got != 1 {
		t.Fatalf("count after restart = %d, want 1", got)
	}

	clock.advance(20 * time.Hour)
	if got := restarted.Usage(ctx, models.TextQuota).Count; got != 0 {
		t.Fatalf("count on next day = %d, want 0", got)
	}
}

func TestProIsAlwaysAllowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(storage.NewMemoryLocalStore(), storage.NewMemoryStorage(), guest(), newClock())
	e.SetPro(ctx, true)

	for i := 0; i < MaxText+5; i++ {
		e.Increment(ctx, models.TextQuota)
	}
	u := e.Usage(ctx, models.TextQuota)
	if !e.CanUse(ctx, models.TextQuota) || !u.IsPro {
		t.Fatalf("pro user must always be allowed, usage %+v", u)
	}
	if u.Max != ProLimit || u.Remaining != ProLimit-(MaxText+5) {
		t.Fatalf("unexpected pro usage: %+v", u)
	}
}

type failingLocal struct {
	*storage.MemoryLocalStore
}

func (failingLocal) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestIncrementIsOptimisticWhenWritesFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(failingLocal{storage.NewMemoryLocalStore()}, storage.NewMemoryStorage(), guest(), newClock())

	for i := 0; i < MaxText; i++ {
		e.Increment(ctx, models.TextQuota)
	}
	if got := e.Usage(ctx, models.TextQuota).Count; got != MaxText {
		t.Fatalf("count = %d, want %d", got, MaxText)
	}
	if e.CanUse(ctx, models.TextQuota) {
		t.Fatal("a failed write must not let the user exceed the quota")
	}
}

type flakyRemote struct {
	*storage.MemoryStorage
	mu   sync.Mutex
	fail bool
}

func (f *flakyRemote) UpsertUsage(ctx context.Context, userID string, c models.QuotaCounter) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("timeout")
	}
	return f.MemoryStorage.UpsertUsage(ctx, userID, c)
}

func (f *flakyRemote) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func TestSignedInUsesRemoteAndRetriesFailedWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := &flakyRemote{MemoryStorage: storage.NewMemoryStorage()}
	sessions := &stubSessions{session: models.Session{AuthState: models.SignedIn, UserID: "user-1"}}
	local := storage.NewMemoryLocalStore()
	e := newEngine(local, remote, sessions, newClock())

	e.Increment(ctx, models.TextQuota)
	remote.setFail(true)
	e.Increment(ctx, models.TextQuota)
	remote.setFail(false)
	e.Increment(ctx, models.TextQuota)

	c, err := remote.GetLatestUsage(ctx, "user-1", models.TextQuota)
	if err != nil {
		t.Fatalf("GetLatestUsage failed: %v", err)
	}
	if c.Count != 3 || c.Day != "2026-10-15" {
		t.Fatalf("expected retried write to carry count 3, got %+v", c)
	}
	if _, ok, _ := local.Get(ctx, storage.KeyQuotaUsage); ok {
		t.Fatal("signed-in usage must not be written to the local store")
	}
}

func TestSessionChangeResetsInMemoryCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sessions := guest()
	local := failingLocal{storage.NewMemoryLocalStore()}
	e := newEngine(local, storage.NewMemoryStorage(), sessions, newClock())

	e.Increment(ctx, models.TextQuota)
	if got := e.Usage(ctx, models.TextQuota).Count; got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	sessions.set(models.Session{AuthState: models.SignedOut})
	if got := e.Usage(ctx, models.TextQuota).Count; got != 0 {
		t.Fatalf("expected counters to reset with the session, got %d", got)
	}
}

func TestDayBoundaryFollowsLocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tokyo := time.FixedZone("JST", 9*60*60)
	clock := &fakeClock{now: time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)}
	local := storage.NewMemoryLocalStore()
	e := NewEngine(local, storage.NewMemoryStorage(), guest(), nil, WithClock(clock.Now), WithLocation(tokyo))

	e.Increment(ctx, models.TextQuota)
	// 15:30 UTC is 00:30 the next day in Tokyo.
	clock.advance(time.Hour)
	if got := e.Usage(ctx, models.TextQuota).Count; got != 0 {
		t.Fatalf("expected reset at local midnight, got %d", got)
	}
}
