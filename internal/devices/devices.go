// internal/devices/devices.go
package devices

import (
	"context"
	"fmt"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/push"
	"notification-pipeline/internal/store"
)

// Cache is the slice of the cache layer the device surface writes through.
type Cache interface {
	SavePushToken(ctx context.Context, userID, deviceID, token string) error
	RemovePushToken(ctx context.Context, userID, deviceID string) error
	InvalidateUserCache(ctx context.Context, userID string) error
	WarmupUserCache(ctx context.Context, userID string)
}

// Service owns device registration and preference updates. Writes go to the
// store first; the cache write happens after, so a cache failure can only
// cause a miss, never a stale read.
type Service struct {
	tokens store.TokenStore
	prefs  store.PreferenceStore
	cache  Cache
	logger logger.Logger
}

func NewService(tokens store.TokenStore, prefs store.PreferenceStore, cache Cache, log logger.Logger) *Service {
	return &Service{
		tokens: tokens,
		prefs:  prefs,
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "devices"}),
	}
}

// Register upserts the device's token. Re-registering an existing device
// replaces its token and reactivates it.
func (s *Service) Register(ctx context.Context, userID, deviceID, token, deviceType string) error {
	if userID == "" || deviceID == "" || token == "" {
		return fmt.Errorf("userID, deviceID and token are required")
	}

	record := &models.PushToken{
		UserID:     userID,
		DeviceID:   deviceID,
		Token:      token,
		DeviceType: deviceType,
		IsActive:   true,
	}
	if err := s.tokens.Upsert(ctx, record); err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	if err := s.cache.SavePushToken(ctx, userID, deviceID, token); err != nil {
		s.logger.Warn("token cache write failed", map[string]interface{}{
			"userId":   userID,
			"deviceId": deviceID,
			"token":    push.MaskToken(token),
			"error":    err.Error(),
		})
	}

	s.logger.Info("device registered", map[string]interface{}{
		"userId":   userID,
		"deviceId": deviceID,
		"token":    push.MaskToken(token),
	})
	return nil
}

// Remove deletes the device's token from the store and evicts its cache entry.
func (s *Service) Remove(ctx context.Context, userID, deviceID string) error {
	if err := s.tokens.Delete(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("remove device: %w", err)
	}

	if err := s.cache.RemovePushToken(ctx, userID, deviceID); err != nil {
		s.logger.Warn("token cache eviction failed", map[string]interface{}{
			"userId":   userID,
			"deviceId": deviceID,
			"error":    err.Error(),
		})
	}
	return nil
}

// UpdatePreferences persists the new preference record and invalidates the
// user's cache so the next delivery sees it.
func (s *Service) UpdatePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	if prefs == nil || prefs.UserID == "" {
		return fmt.Errorf("preferences with a userID are required")
	}

	if err := s.prefs.Save(ctx, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	if err := s.cache.InvalidateUserCache(ctx, prefs.UserID); err != nil {
		s.logger.Warn("preference cache invalidation failed", map[string]interface{}{
			"userId": prefs.UserID,
			"error":  err.Error(),
		})
	}
	return nil
}

// Warmup pre-populates the user's preference cache, typically on login.
func (s *Service) Warmup(ctx context.Context, userID string) {
	s.cache.WarmupUserCache(ctx, userID)
}
