// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	prefsKeyPrefix       = "prefs:"
	tokenKeyPrefix       = "push_token:"
	tokenIndexKeyPrefix  = "push_token_devices:"
	legacyTokenKeyPrefix = "push_tokens:"
)

// Service is the cache-aside layer for the two read-heavy shapes: per-user
// notification preferences (single JSON value) and per-user active device
// tokens (one key per device, each with its own expiry; Redis has no
// field-level TTL on hashes, so per-device keys plus a device-id index
// emulate it).
//
// Every cache entry is disposable: the store is the single source of truth.
type Service struct {
	rdb           *redis.Client
	prefs         store.PreferenceStore
	tokens        store.TokenStore
	preferenceTTL time.Duration
	tokenTTL      time.Duration
	logger        logger.Logger
}

func NewService(rdb *redis.Client, prefs store.PreferenceStore, tokens store.TokenStore, preferenceTTL, tokenTTL time.Duration, log logger.Logger) *Service {
	return &Service{
		rdb:           rdb,
		prefs:         prefs,
		tokens:        tokens,
		preferenceTTL: preferenceTTL,
		tokenTTL:      tokenTTL,
		logger:        log.WithFields(map[string]interface{}{"component": "cache"}),
	}
}

// GetPreferences returns the user's notification preferences, reading through
// to the store on a miss. A missing store record is created default-enabled,
// so a first read deliberately creates state. A corrupt cache entry is
// evicted and treated as a miss.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	key := prefsKeyPrefix + userID

	if val, err := s.rdb.Get(ctx, key).Result(); err == nil {
		var prefs models.NotificationPreferences
		if err := json.Unmarshal([]byte(val), &prefs); err == nil {
			return &prefs, nil
		}
		s.logger.Warn("evicting corrupt preference cache entry", map[string]interface{}{
			"userId": userID,
		})
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("preference cache read failed, falling back to store", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	prefs, err := s.prefs.FetchOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}

	if payload, err := json.Marshal(prefs); err == nil {
		if err := s.rdb.Set(ctx, key, payload, s.preferenceTTL).Err(); err != nil {
			s.logger.Warn("preference cache populate failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}

	return prefs, nil
}

// GetActiveTokens returns the user's active push tokens. Read order: the
// per-device keys, then the legacy whole-value key kept for migration
// compatibility, then the store. The store fallback does NOT populate the
// cache: token cache population is owned exclusively by the write path, so a
// stale "empty" result is never cached mid-migration.
func (s *Service) GetActiveTokens(ctx context.Context, userID string) ([]string, error) {
	if tokens := s.readDeviceTokens(ctx, userID); len(tokens) > 0 {
		return tokens, nil
	}

	if tokens := s.readLegacyTokens(ctx, userID); len(tokens) > 0 {
		return tokens, nil
	}

	records, err := s.tokens.FetchActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch active tokens: %w", err)
	}

	tokens := make([]string, 0, len(records))
	for _, rec := range records {
		tokens = append(tokens, rec.Token)
	}
	return tokens, nil
}

// SavePushToken writes a single device's cache entry with its own expiry,
// leaving every other device's entry untouched.
func (s *Service) SavePushToken(ctx context.Context, userID, deviceID, token string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, tokenKey(userID, deviceID), token, s.tokenTTL)
	pipe.SAdd(ctx, tokenIndexKeyPrefix+userID, deviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save push token cache entry: %w", err)
	}
	return nil
}

// RemovePushToken deletes exactly one device's cache entry.
func (s *Service) RemovePushToken(ctx context.Context, userID, deviceID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, tokenKey(userID, deviceID))
	pipe.SRem(ctx, tokenIndexKeyPrefix+userID, deviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove push token cache entry: %w", err)
	}
	return nil
}

// InvalidateUserCache deletes both cache shapes for a user. Called by every
// write path to the source of truth before it returns, so the next read is
// guaranteed fresh.
func (s *Service) InvalidateUserCache(ctx context.Context, userID string) error {
	keys := []string{
		prefsKeyPrefix + userID,
		legacyTokenKeyPrefix + userID,
		tokenIndexKeyPrefix + userID,
	}

	deviceIDs, err := s.rdb.SMembers(ctx, tokenIndexKeyPrefix+userID).Result()
	if err == nil {
		for _, deviceID := range deviceIDs {
			keys = append(keys, tokenKey(userID, deviceID))
		}
	}

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate user cache: %w", err)
	}
	return nil
}

// WarmupUserCache eagerly pre-populates the preference cache (e.g. on login)
// using the same read path. Idempotent.
func (s *Service) WarmupUserCache(ctx context.Context, userID string) {
	if _, err := s.GetPreferences(ctx, userID); err != nil {
		s.logger.Debug("cache warmup skipped", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (s *Service) readDeviceTokens(ctx context.Context, userID string) []string {
	deviceIDs, err := s.rdb.SMembers(ctx, tokenIndexKeyPrefix+userID).Result()
	if err != nil || len(deviceIDs) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(deviceIDs))
	expired := make([]interface{}, 0)
	for _, deviceID := range deviceIDs {
		token, err := s.rdb.Get(ctx, tokenKey(userID, deviceID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Device entry expired on its own; prune the index lazily.
				expired = append(expired, deviceID)
			}
			continue
		}
		tokens = append(tokens, token)
	}

	if len(expired) > 0 {
		s.rdb.SRem(ctx, tokenIndexKeyPrefix+userID, expired...)
	}

	return tokens
}

func (s *Service) readLegacyTokens(ctx context.Context, userID string) []string {
	val, err := s.rdb.Get(ctx, legacyTokenKeyPrefix+userID).Result()
	if err != nil {
		return nil
	}

	var tokens []string
	if err := json.Unmarshal([]byte(val), &tokens); err != nil {
		s.logger.Warn("evicting corrupt legacy token cache entry", map[string]interface{}{
			"userId": userID,
		})
		s.rdb.Del(ctx, legacyTokenKeyPrefix+userID)
		return nil
	}
	return tokens
}

func tokenKey(userID, deviceID string) string {
	return tokenKeyPrefix + userID + ":" + deviceID
}
