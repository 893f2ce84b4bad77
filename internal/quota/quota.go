// Package quota enforces the daily allowance of completion requests.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"go.uber.org/zap"
)

const (
	MaxText  = 10
	MaxImage = 1
	// ProLimit stands in for "unbounded" so remaining stays a plain integer.
	ProLimit = 1_000_000

	dayLayout = "2006-01-02"
)

// Sessions is the part of the session manager the engine reads.
type Sessions interface {
	Current() models.Session
	Subscribe(fn func(models.Session)) (unsubscribe func())
}

type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the location whose calendar day bounds the quota.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

type cacheKey struct {
	owner string
	kind  models.QuotaKind
}

// Engine tracks per-day usage counters. Guests are counted in the local
// store, signed-in users in the remote usage log. Counters reset lazily: the
// first read on a new day starts from zero.
type Engine struct {
	local    storage.LocalStore
	remote   storage.RemoteStore
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time
	loc      *time.Location

	mu    sync.Mutex
	cache map[cacheKey]models.QuotaCounter
}

func NewEngine(local storage.LocalStore, remote storage.RemoteStore, sessions Sessions, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		local:    local,
		remote:   remote,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		loc:      time.Local,
		cache:    make(map[cacheKey]models.QuotaCounter),
	}
	for _, opt := range opts {
		opt(e)
	}
	sessions.Subscribe(func(s models.Session) {
		if s.AuthState == models.SignedIn || s.AuthState == models.SignedOut {
			e.reset()
		}
	})
	return e
}

// Limit returns the daily ceiling for kind.
func Limit(kind models.QuotaKind, isPro bool) int {
	if isPro {
		return ProLimit
	}
	switch kind {
	case models.TextQuota:
		return MaxText
	case models.ImageQuota:
		return MaxImage
	}
	return 0
}

// Usage returns today's counter for kind.
func (e *Engine) Usage(ctx context.Context, kind models.QuotaKind) models.Usage {
	if !kind.Valid() {
		e.logger.Warn("Unknown quota kind", zap.String("kind", string(kind)))
		return models.Usage{Kind: kind}
	}
	counter := e.read(ctx, e.sessions.Current(), kind)

	limit := Limit(kind, counter.IsPro)
	remaining := limit - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return models.Usage{
		Kind:      kind,
		Count:     counter.Count,
		Max:       limit,
		Remaining: remaining,
		IsPro:     counter.IsPro,
	}
}

// CanUse reports whether one more request of kind is allowed today.
func (e *Engine) CanUse(ctx context.Context, kind models.QuotaKind) bool {
	u := e.Usage(ctx, kind)
	if u.IsPro {
		return true
	}
	return u.Count < u.Max
}

func (e *Engine) Remaining(ctx context.Context, kind models.QuotaKind) int {
	return e.Usage(ctx, kind).Remaining
}

// Increment records one request of kind. The in-memory counter advances even
// when the write fails; the next increment writes it again.
func (e *Engine) Increment(ctx context.Context, kind models.QuotaKind) {
	if !kind.Valid() {
		e.logger.Warn("Unknown quota kind", zap.String("kind", string(kind)))
		return
	}
	s := e.sessions.Current()
	counter := e.advance(s, e.read(ctx, s, kind))

	if err := e.persist(ctx, s, counter); err != nil {
		e.logger.Warn("Failed to persist quota counter, keeping in-memory value",
			zap.String("kind", string(kind)),
			zap.Int("count", counter.Count),
			zap.Error(err))
	}
}

// SetPro records the subscription tier on today's counters.
func (e *Engine) SetPro(ctx context.Context, isPro bool) {
	s := e.sessions.Current()
	for _, kind := range []models.QuotaKind{models.TextQuota, models.ImageQuota} {
		counter := e.read(ctx, s, kind)
		counter.IsPro = isPro
		e.remember(s, counter)
		if err := e.persist(ctx, s, counter); err != nil {
			e.logger.Warn("Failed to persist quota tier", zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

func (e *Engine) today() string {
	return e.now().In(e.loc).Format(dayLayout)
}

func owner(s models.Session) string {
	if s.IsSignedIn() {
		return s.UserID
	}
	return ""
}

// read loads the stored counter, applies the day rollover and merges the
// in-memory counter, which is never behind what this process has counted.
func (e *Engine) read(ctx context.Context, s models.Session, kind models.QuotaKind) models.QuotaCounter {
	today := e.today()
	counter := models.QuotaCounter{Kind: kind, Day: today}

	stored, err := e.load(ctx, s, kind)
	if err != nil {
		e.logger.Warn("Failed to read quota counter, using in-memory value",
			zap.String("kind", string(kind)), zap.Error(err))
	}
	rolledOver := false
	if stored != nil {
		counter.IsPro = stored.IsPro
		if stored.Day == today {
			counter.Count = stored.Count
		} else {
			rolledOver = true
		}
	}

	key := cacheKey{owner: owner(s), kind: kind}
	e.mu.Lock()
	if cached, ok := e.cache[key]; ok && cached.Day == today {
		if cached.Count > counter.Count {
			counter.Count = cached.Count
		}
		counter.IsPro = cached.IsPro
	}
	e.cache[key] = counter
	e.mu.Unlock()

	if rolledOver {
		if err := e.persist(ctx, s, counter); err != nil {
			e.logger.Warn("Failed to persist reset quota counter", zap.String("kind", string(kind)), zap.Error(err))
		}
	}
	return counter
}

// advance adds one to the larger of counter and the in-memory counter in a
// single critical section, so concurrent increments are never merged.
func (e *Engine) advance(s models.Session, counter models.QuotaCounter) models.QuotaCounter {
	key := cacheKey{owner: owner(s), kind: counter.Kind}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.cache[key]; ok && cached.Day == counter.Day && cached.Count > counter.Count {
		counter.Count = cached.Count
	}
	counter.Count++
	e.cache[key] = counter
	return counter
}

func (e *Engine) remember(s models.Session, counter models.QuotaCounter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[cacheKey{owner: owner(s), kind: counter.Kind}] = counter
}

func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[cacheKey]models.QuotaCounter)
}

func (e *Engine) load(ctx context.Context, s models.Session, kind models.QuotaKind) (*models.QuotaCounter, error) {
	if s.IsSignedIn() {
		counter, err := e.remote.GetLatestUsage(ctx, s.UserID, kind)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return counter, err
	}

	counters, err := e.loadLocal(ctx)
	if err != nil {
		return nil, err
	}
	if c, ok := counters[kind]; ok {
		return &c, nil
	}
	return nil, nil
}

func (e *Engine) loadLocal(ctx context.Context) (map[models.QuotaKind]models.QuotaCounter, error) {
	counters := make(map[models.QuotaKind]models.QuotaCounter)
	if _, err := storage.LoadJSON(ctx, e.local, storage.KeyQuotaUsage, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}

func (e *Engine) persist(ctx context.Context, s models.Session, counter models.QuotaCounter) error {
	if s.IsSignedIn() {
		return e.remote.UpsertUsage(ctx, s.UserID, counter)
	}

	// Re-read right before writing so the other kind's counter is kept.
	counters, err := e.loadLocal(ctx)
	if err != nil {
		e.logger.Warn("Discarding unreadable local quota document", zap.Error(err))
		counters = make(map[models.QuotaKind]models.QuotaCounter)
	}
	counters[counter.Kind] = counter
	if err := storage.SaveJSON(ctx, e.local, storage.KeyQuotaUsage, counters); err != nil {
		return fmt.Errorf("save local quota: %w", err)
	}
	return nil
}
