// internal/cache/cache_test.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

// ==========================
// Test doubles
// ==========================

type fakePrefStore struct {
	prefs *models.NotificationPreferences
	calls int
	err   error
}

func (s *fakePrefStore) FetchOrCreate(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.prefs != nil {
		return s.prefs, nil
	}
	return models.DefaultPreferences(userID), nil
}

func (s *fakePrefStore) Save(ctx context.Context, prefs *models.NotificationPreferences) error {
	return nil
}

type fakeTokenStore struct {
	tokens []models.PushToken
	calls  int
	err    error
}

func (s *fakeTokenStore) FetchActiveByUser(ctx context.Context, userID string) ([]models.PushToken, error) {
	s.calls++
	return s.tokens, s.err
}

func (s *fakeTokenStore) Deactivate(ctx context.Context, token string) error { return nil }

func (s *fakeTokenStore) Upsert(ctx context.Context, token *models.PushToken) error { return nil }

func (s *fakeTokenStore) Delete(ctx context.Context, userID, deviceID string) error { return nil }

// ==========================
// Helpers
// ==========================

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestService(t *testing.T, client *redis.Client, prefs *fakePrefStore, tokens *fakeTokenStore) *Service {
	t.Helper()
	return NewService(client, prefs, tokens, 72*time.Hour, 30*24*time.Hour, logger.NewTestLogger(t))
}

// ==========================
// Preference cache
// ==========================

func TestGetPreferences_MissReadsThroughAndPopulates(t *testing.T) {
	mr, client := setupRedis(t)
	prefs := &fakePrefStore{}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})

	got, err := svc.GetPreferences(context.Background(), "42")

	require.NoError(t, err)
	assert.True(t, got.EnablePushNotifications)
	assert.Equal(t, 1, prefs.calls)

	// Entry was cached with the configured TTL.
	require.True(t, mr.Exists("prefs:42"))
	assert.Equal(t, 72*time.Hour, mr.TTL("prefs:42"))
}

func TestGetPreferences_HitSkipsStore(t *testing.T) {
	_, client := setupRedis(t)
	prefs := &fakePrefStore{}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})

	_, err := svc.GetPreferences(context.Background(), "42")
	require.NoError(t, err)
	_, err = svc.GetPreferences(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 1, prefs.calls)
}

func TestGetPreferences_CorruptEntryEvictedAndRefetched(t *testing.T) {
	mr, client := setupRedis(t)
	prefs := &fakePrefStore{}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})

	require.NoError(t, mr.Set("prefs:42", "{not json"))

	got, err := svc.GetPreferences(context.Background(), "42")

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, 1, prefs.calls)

	// The corrupt value was replaced with a valid one.
	val, err := mr.Get("prefs:42")
	require.NoError(t, err)
	var reread models.NotificationPreferences
	require.NoError(t, json.Unmarshal([]byte(val), &reread))
}

func TestGetPreferences_StoreFailurePropagates(t *testing.T) {
	_, client := setupRedis(t)
	prefs := &fakePrefStore{err: assert.AnError}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})

	_, err := svc.GetPreferences(context.Background(), "42")

	require.Error(t, err)
}

func TestGetPreferences_DisabledTypeRoundTrips(t *testing.T) {
	_, client := setupRedis(t)
	stored := models.DefaultPreferences("42")
	stored.Types[models.TypePostComment.PreferenceKey()] = false
	prefs := &fakePrefStore{prefs: stored}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})

	// First read populates the cache, second read serves from it.
	_, err := svc.GetPreferences(context.Background(), "42")
	require.NoError(t, err)
	got, err := svc.GetPreferences(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, 1, prefs.calls)
	assert.False(t, got.Allows(models.TypePostComment))
	assert.True(t, got.Allows(models.TypeAnnouncement))
}

func TestGetPreferences_RedisDownFallsBackToStore(t *testing.T) {
	client, mock := redismock.NewClientMock()
	prefs := &fakePrefStore{}
	svc := NewService(client, prefs, &fakeTokenStore{}, 72*time.Hour, 30*24*time.Hour, logger.NewTestLogger(t))

	mock.ExpectGet("prefs:42").SetErr(errors.New("connection refused"))
	payload, _ := json.Marshal(models.DefaultPreferences("42"))
	mock.ExpectSet("prefs:42", payload, 72*time.Hour).SetErr(errors.New("connection refused"))

	// Redis being down degrades to a store read, never to a failure.
	got, err := svc.GetPreferences(context.Background(), "42")

	require.NoError(t, err)
	assert.True(t, got.EnablePushNotifications)
	assert.Equal(t, 1, prefs.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Token cache
// ==========================

func TestGetActiveTokens_RedisDownFallsBackToStore(t *testing.T) {
	client, mock := redismock.NewClientMock()
	tokens := &fakeTokenStore{tokens: []models.PushToken{{Token: "tok-store"}}}
	svc := NewService(client, &fakePrefStore{}, tokens, 72*time.Hour, 30*24*time.Hour, logger.NewTestLogger(t))

	mock.ExpectSMembers("push_token_devices:42").SetErr(errors.New("connection refused"))
	mock.ExpectGet("push_tokens:42").SetErr(errors.New("connection refused"))

	got, err := svc.GetActiveTokens(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-store"}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndGetActiveTokens(t *testing.T) {
	_, client := setupRedis(t)
	tokens := &fakeTokenStore{}
	svc := newTestService(t, client, &fakePrefStore{}, tokens)
	ctx := context.Background()

	require.NoError(t, svc.SavePushToken(ctx, "42", "phone", "tok-phone"))
	require.NoError(t, svc.SavePushToken(ctx, "42", "tablet", "tok-tablet"))

	got, err := svc.GetActiveTokens(ctx, "42")

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-phone", "tok-tablet"}, got)
	assert.Zero(t, tokens.calls)
}

func TestGetActiveTokens_ExpiredDeviceDoesNotAffectOthers(t *testing.T) {
	mr, client := setupRedis(t)
	svc := newTestService(t, client, &fakePrefStore{}, &fakeTokenStore{})
	ctx := context.Background()

	require.NoError(t, svc.SavePushToken(ctx, "42", "old-phone", "tok-old"))
	require.NoError(t, svc.SavePushToken(ctx, "42", "new-phone", "tok-new"))

	// Age out only the old phone's entry.
	mr.SetTTL("push_token:42:old-phone", time.Minute)
	mr.FastForward(2 * time.Minute)

	got, err := svc.GetActiveTokens(ctx, "42")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-new"}, got)

	// The expired device id was pruned from the index.
	members, err := mr.SMembers("push_token_devices:42")
	require.NoError(t, err)
	assert.Equal(t, []string{"new-phone"}, members)
}

func TestGetActiveTokens_LegacyWholeValueFallback(t *testing.T) {
	mr, client := setupRedis(t)
	tokens := &fakeTokenStore{}
	svc := newTestService(t, client, &fakePrefStore{}, tokens)

	legacy, _ := json.Marshal([]string{"tok-a", "tok-b"})
	require.NoError(t, mr.Set("push_tokens:42", string(legacy)))

	got, err := svc.GetActiveTokens(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, got)
	assert.Zero(t, tokens.calls)
}

func TestGetActiveTokens_CorruptLegacyEntryEvicted(t *testing.T) {
	mr, client := setupRedis(t)
	tokens := &fakeTokenStore{tokens: []models.PushToken{{Token: "tok-store"}}}
	svc := newTestService(t, client, &fakePrefStore{}, tokens)

	require.NoError(t, mr.Set("push_tokens:42", "{not json"))

	got, err := svc.GetActiveTokens(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-store"}, got)
	assert.False(t, mr.Exists("push_tokens:42"))
}

func TestGetActiveTokens_StoreFallbackDoesNotPopulateCache(t *testing.T) {
	mr, client := setupRedis(t)
	tokens := &fakeTokenStore{tokens: []models.PushToken{{Token: "tok-store", DeviceID: "phone"}}}
	svc := newTestService(t, client, &fakePrefStore{}, tokens)

	got, err := svc.GetActiveTokens(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, []string{"tok-store"}, got)
	assert.Equal(t, 1, tokens.calls)

	// Population is owned by the write path, not the read fallback.
	assert.False(t, mr.Exists("push_token:42:phone"))
	assert.False(t, mr.Exists("push_token_devices:42"))

	// Every subsequent read keeps hitting the store.
	_, err = svc.GetActiveTokens(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, tokens.calls)
}

func TestSavePushToken_AppliesTokenTTL(t *testing.T) {
	mr, client := setupRedis(t)
	svc := newTestService(t, client, &fakePrefStore{}, &fakeTokenStore{})

	require.NoError(t, svc.SavePushToken(context.Background(), "42", "phone", "tok"))

	assert.Equal(t, 30*24*time.Hour, mr.TTL("push_token:42:phone"))
}

func TestRemovePushToken_RemovesOnlyThatDevice(t *testing.T) {
	mr, client := setupRedis(t)
	svc := newTestService(t, client, &fakePrefStore{}, &fakeTokenStore{})
	ctx := context.Background()

	require.NoError(t, svc.SavePushToken(ctx, "42", "phone", "tok-phone"))
	require.NoError(t, svc.SavePushToken(ctx, "42", "tablet", "tok-tablet"))

	require.NoError(t, svc.RemovePushToken(ctx, "42", "phone"))

	assert.False(t, mr.Exists("push_token:42:phone"))
	assert.True(t, mr.Exists("push_token:42:tablet"))

	got, err := svc.GetActiveTokens(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-tablet"}, got)
}

func TestInvalidateUserCache_RemovesBothShapes(t *testing.T) {
	mr, client := setupRedis(t)
	prefs := &fakePrefStore{}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})
	ctx := context.Background()

	_, err := svc.GetPreferences(ctx, "42")
	require.NoError(t, err)
	require.NoError(t, svc.SavePushToken(ctx, "42", "phone", "tok-phone"))
	require.NoError(t, mr.Set("push_tokens:42", `["tok-legacy"]`))

	require.NoError(t, svc.InvalidateUserCache(ctx, "42"))

	assert.False(t, mr.Exists("prefs:42"))
	assert.False(t, mr.Exists("push_tokens:42"))
	assert.False(t, mr.Exists("push_token_devices:42"))
	assert.False(t, mr.Exists("push_token:42:phone"))

	// The next read is guaranteed fresh from the store.
	_, err = svc.GetPreferences(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, prefs.calls)
}

func TestInvalidateUserCache_OtherUsersUntouched(t *testing.T) {
	mr, client := setupRedis(t)
	svc := newTestService(t, client, &fakePrefStore{}, &fakeTokenStore{})
	ctx := context.Background()

	require.NoError(t, svc.SavePushToken(ctx, "42", "phone", "tok-42"))
	require.NoError(t, svc.SavePushToken(ctx, "43", "phone", "tok-43"))

	require.NoError(t, svc.InvalidateUserCache(ctx, "42"))

	assert.False(t, mr.Exists("push_token:42:phone"))
	assert.True(t, mr.Exists("push_token:43:phone"))
}

func TestWarmupUserCache_Idempotent(t *testing.T) {
	mr, client := setupRedis(t)
	prefs := &fakePrefStore{}
	svc := newTestService(t, client, prefs, &fakeTokenStore{})
	ctx := context.Background()

	svc.WarmupUserCache(ctx, "42")
	svc.WarmupUserCache(ctx, "42")

	assert.True(t, mr.Exists("prefs:42"))
	assert.Equal(t, 1, prefs.calls)
}
