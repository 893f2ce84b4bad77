// Package profile keeps the creator profile captured at onboarding and the
// device preferences.
package profile

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

// Store is the remote side of the profile.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, userID string, profile *models.Profile) error
}

type Sessions interface {
	Current() models.Session
	Subscribe(fn func(models.Session)) (unsubscribe func())
}

type Service struct {
	local    storage.LocalStore
	remote   Store
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	profile     *models.Profile
	preferences *models.Preferences
}

func NewService(local storage.LocalStore, remote Store, sessions Sessions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		local:    local,
		remote:   remote,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
	sessions.Subscribe(func(sess models.Session) {
		if sess.AuthState == models.SignedOut || sess.AuthState == models.SignedIn {
			s.mu.Lock()
			s.profile = nil
			s.preferences = nil
			s.mu.Unlock()
		}
	})
	return s
}

// Save stores the profile locally and, for a signed-in user, in the remote
// profiles table. A remote failure is logged; the next sign-in reconciles it.
func (s *Service) Save(ctx context.Context, p models.Profile) (models.Profile, error) {
	p.Normalize()
	p.UpdatedAt = s.now().UTC()

	if err := storage.SaveJSON(ctx, s.local, storage.KeyOnboardingData, p); err != nil {
		return models.Profile{}, fmt.Errorf("save profile: %w", err)
	}

	if sess := s.sessions.Current(); sess.IsSignedIn() {
		if err := s.remote.UpsertProfile(ctx, sess.UserID, &p); err != nil {
			s.logger.Warn("Failed to upsert remote profile",
				zap.String("user_id", sess.UserID),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	cp := p
	s.profile = &cp
	s.mu.Unlock()
	return p, nil
}

// Current returns the profile, or nil when onboarding has not happened.
func (s *Service) Current(ctx context.Context) (*models.Profile, error) {
	s.mu.Lock()
	if s.profile != nil {
		cp := *s.profile
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	var found *models.Profile
	if sess := s.sessions.Current(); sess.IsSignedIn() {
		p, err := s.remote.GetProfile(ctx, sess.UserID)
		switch {
		case err == nil:
			found = p
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.logger.Warn("Falling back to local profile", zap.String("user_id", sess.UserID), zap.Error(err))
		}
	}
	if found == nil {
		var p models.Profile
		ok, err := storage.LoadJSON(ctx, s.local, storage.KeyOnboardingData, &p)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		if !ok {
			return nil, nil
		}
		found = &p
	}

	s.mu.Lock()
	cp := *found
	s.profile = &cp
	s.mu.Unlock()
	return found, nil
}

// SavePreferences stores the device preferences.
func (s *Service) SavePreferences(ctx context.Context, prefs models.Preferences) error {
	if err := storage.SaveJSON(ctx, s.local, storage.KeyUserPreferences, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	s.mu.Lock()
	s.preferences = &prefs
	s.mu.Unlock()
	return nil
}

// Preferences returns the stored preferences, or the defaults.
func (s *Service) Preferences(ctx context.Context) models.Preferences {
	s.mu.Lock()
	if s.preferences != nil {
		prefs := *s.preferences
		s.mu.Unlock()
		return prefs
	}
	s.mu.Unlock()

	prefs := models.DefaultPreferences()
	if _, err := storage.LoadJSON(ctx, s.local, storage.KeyUserPreferences, &prefs); err != nil {
		s.logger.Warn("Using default preferences", zap.Error(err))
		prefs = models.DefaultPreferences()
	}

	s.mu.Lock()
	s.preferences = &prefs
	s.mu.Unlock()
	return prefs
}
