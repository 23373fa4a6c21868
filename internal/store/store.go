// internal/store/store.go
package store

import (
	"context"

	"notification-pipeline/internal/models"
)

// NotificationStore persists notification records.
type NotificationStore interface {
	Insert(ctx context.Context, record *models.NotificationRecord) error
	// UpdateStatus is idempotent: re-applying the same status for the same
	// notification id is a no-op change.
	UpdateStatus(ctx context.Context, notificationID string, sent bool, status models.PushStatus, errorMessage string) error
}

// TokenStore persists device push tokens.
type TokenStore interface {
	FetchActiveByUser(ctx context.Context, userID string) ([]models.PushToken, error)
	// Deactivate marks the single token value inactive, never the user's
	// other tokens.
	Deactivate(ctx context.Context, token string) error
	Upsert(ctx context.Context, token *models.PushToken) error
	Delete(ctx context.Context, userID, deviceID string) error
}

// PreferenceStore persists notification preferences. FetchOrCreate inserts a
// default-enabled record when none exists, so defaults are computed once.
type PreferenceStore interface {
	FetchOrCreate(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Save(ctx context.Context, prefs *models.NotificationPreferences) error
}
