// Package reconcile merges the device's local state into the remote store
// when a user signs in.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Report summarises one reconciliation run.
type Report struct {
	ProfileSynced bool
	ItemsSynced   int
	ItemsFailed   int
	// Err combines every failure of the run. It is informational only.
	Err error
}

type Reconciler struct {
	local  storage.LocalStore
	remote storage.RemoteStore
	logger *zap.Logger
}

func New(local storage.LocalStore, remote storage.RemoteStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{local: local, remote: remote, logger: logger}
}

// Reconcile upserts the local profile and saved items under userID. Each
// entity is synced independently; failures are logged and never returned as
// an error. Nothing is deleted on either side, so running it twice is safe.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) Report {
	var report Report

	synced, err := r.syncProfile(ctx, userID)
	if err != nil {
		report.Err = multierr.Append(report.Err, err)
	}
	report.ProfileSynced = synced

	report.ItemsSynced, report.ItemsFailed, err = r.syncItems(ctx, userID)
	if err != nil {
		report.Err = multierr.Append(report.Err, err)
	}

	if report.Err != nil {
		r.logger.Warn("Reconciliation finished with errors",
			zap.String("user_id", userID),
			zap.Errors("errors", multierr.Errors(report.Err)))
	}
	return report
}

func (r *Reconciler) syncProfile(ctx context.Context, userID string) (bool, error) {
	var profile models.Profile
	ok, err := storage.LoadJSON(ctx, r.local, storage.KeyOnboardingData, &profile)
	if err != nil {
		return false, fmt.Errorf("read local profile: %w", err)
	}
	if !ok {
		return false, nil
	}

	profile.Normalize()
	if err := r.remote.UpsertProfile(ctx, userID, &profile); err != nil {
		return false, fmt.Errorf("sync profile: %w", err)
	}
	return true, nil
}

func (r *Reconciler) syncItems(ctx context.Context, userID string) (synced, failed int, errs error) {
	// Decode lazily so one malformed entry cannot hide the others.
	var raw []json.RawMessage
	ok, err := storage.LoadJSON(ctx, r.local, storage.KeySavedItems, &raw)
	if err != nil {
		return 0, 0, fmt.Errorf("read local saved items: %w", err)
	}
	if !ok {
		return 0, 0, nil
	}

	for i, entry := range raw {
		var item models.SavedItem
		if err := json.Unmarshal(entry, &item); err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("decode saved item %d: %w", i, err))
			continue
		}
		if item.ID == "" || !item.Type.Valid() {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("saved item %d: invalid id %q or type %q", i, item.ID, item.Type))
			continue
		}
		if err := r.remote.UpsertSavedItem(ctx, userID, item); err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("sync saved item %s: %w", item.ID, err))
			continue
		}
		synced++
	}
	return synced, failed, errs
}
