// Package session owns the authentication lifecycle of the running app
// instance and drives the side effects of each transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/reconcile"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"go.uber.org/zap"
)

// EventType names an identity collaborator event.
type EventType string

const (
	EventSignedIn  EventType = "SIGNED_IN"
	EventSignedOut EventType = "SIGNED_OUT"
)

// Event is a session change delivered by the identity collaborator.
type Event struct {
	Type   EventType
	UserID string
}

// Credentials are handed to the identity collaborator unchanged.
type Credentials struct {
	AccessToken string `json:"access_token"`
}

// Identity is the external authentication collaborator.
type Identity interface {
	SignIn(ctx context.Context, creds Credentials) (userID string, err error)
	SignOut(ctx context.Context) error
}

// Reconciler merges local state into the remote store after sign-in.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) reconcile.Report
}

var (
	ErrSignedOut            = errors.New("not signed in")
	ErrTransitionInProgress = errors.New("session transition in progress")
)

// Manager is the single source of truth for the Session. Components receive
// it in their constructors and subscribe to changes.
type Manager struct {
	identity   Identity
	local      storage.LocalStore
	reconciler Reconciler
	logger     *zap.Logger

	mu        sync.Mutex
	session   models.Session
	listeners map[int]func(models.Session)
	nextID    int
}

func NewManager(identity Identity, local storage.LocalStore, reconciler Reconciler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		identity:   identity,
		local:      local,
		reconciler: reconciler,
		logger:     logger,
		session:    models.Session{AuthState: models.SignedOut},
		listeners:  make(map[int]func(models.Session)),
	}
}

// Current returns a snapshot of the session.
func (m *Manager) Current() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// UserID returns the signed-in user id, or ErrSignedOut.
func (m *Manager) UserID() (string, error) {
	s := m.Current()
	if !s.IsSignedIn() {
		return "", ErrSignedOut
	}
	return s.UserID, nil
}

// Subscribe registers fn to be called after every session change. Listeners
// run synchronously on the goroutine that performed the transition.
func (m *Manager) Subscribe(fn func(models.Session)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SignIn authenticates through the identity collaborator and, on success,
// applies the SIGNED_IN transition.
func (m *Manager) SignIn(ctx context.Context, creds Credentials) (models.Session, error) {
	prev, err := m.begin(models.SigningIn)
	if err != nil {
		return prev, err
	}

	userID, err := m.identity.SignIn(ctx, creds)
	if err == nil && userID == "" {
		err = errors.New("identity returned empty user id")
	}
	if err != nil {
		m.logger.Warn("Sign in failed", zap.Error(err))
		m.set(prev)
		return prev, fmt.Errorf("sign in: %w", err)
	}

	m.signedIn(ctx, prev, userID)
	return m.Current(), nil
}

// SignOut ends the session. A failing remote sign-out is logged and the
// session is still torn down locally.
func (m *Manager) SignOut(ctx context.Context) error {
	if _, err := m.begin(models.SigningOut); err != nil {
		return err
	}

	if err := m.identity.SignOut(ctx); err != nil {
		m.logger.Warn("Remote sign out failed, clearing local session anyway", zap.Error(err))
	}
	m.signedOut(ctx)
	return nil
}

// HandleEvent applies an event emitted by the identity collaborator.
func (m *Manager) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventSignedIn:
		if ev.UserID == "" {
			m.logger.Warn("Ignoring SIGNED_IN event without user id")
			return
		}
		prev := m.Current()
		if prev.IsSignedIn() && prev.UserID == ev.UserID {
			return
		}
		m.signedIn(ctx, prev, ev.UserID)
	case EventSignedOut:
		if cur := m.Current(); ev.UserID != "" && ev.UserID != cur.UserID {
			m.logger.Warn("Ignoring SIGNED_OUT event for another user",
				zap.String("event_user_id", ev.UserID),
				zap.String("user_id", cur.UserID),
			)
			return
		}
		m.signedOut(ctx)
	default:
		m.logger.Warn("Ignoring unknown session event", zap.String("event", string(ev.Type)))
	}
}

// Listen applies events until the channel closes or ctx is done.
func (m *Manager) Listen(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.HandleEvent(ctx, ev)
		}
	}
}

func (m *Manager) begin(phase models.AuthState) (models.Session, error) {
	m.mu.Lock()
	prev := m.session
	if prev.AuthState == models.SigningIn || prev.AuthState == models.SigningOut {
		m.mu.Unlock()
		return prev, ErrTransitionInProgress
	}
	m.session = models.Session{AuthState: phase, UserID: prev.UserID}
	m.mu.Unlock()

	m.notify()
	return prev, nil
}

func (m *Manager) signedIn(ctx context.Context, prev models.Session, userID string) {
	if prev.IsSignedIn() && prev.UserID != userID {
		// Another account's local data must not be merged into this one.
		m.signedOut(ctx)
	}

	m.mu.Lock()
	m.session = models.Session{AuthState: models.SignedIn, UserID: userID}
	m.mu.Unlock()
	m.logger.Info("Signed in", zap.String("user_id", userID))

	if m.reconciler != nil {
		report := m.reconciler.Reconcile(ctx, userID)
		m.logger.Info("Reconciled local state",
			zap.String("user_id", userID),
			zap.Bool("profile_synced", report.ProfileSynced),
			zap.Int("items_synced", report.ItemsSynced),
			zap.Int("items_failed", report.ItemsFailed))
	}
	m.notify()
}

func (m *Manager) signedOut(ctx context.Context) {
	m.mu.Lock()
	userID := m.session.UserID
	m.session = models.Session{AuthState: models.SignedOut}
	m.mu.Unlock()

	// Teardown must run even when the caller's context is already done.
	if err := m.local.MultiRemove(context.WithoutCancel(ctx), storage.LocalKeys...); err != nil {
		m.logger.Error("Failed to clear local store", zap.Error(err))
	}
	m.logger.Info("Signed out", zap.String("user_id", userID))
	m.notify()
}

func (m *Manager) set(s models.Session) {
	m.mu.Lock()
	changed := m.session != s
	m.session = s
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	s := m.session
	listeners := make([]func(models.Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
