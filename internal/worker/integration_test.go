// internal/worker/integration_test.go
package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-pipeline/internal/cache"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/delivery"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/push"
	"notification-pipeline/internal/queue"
)

// memoryStore implements the persistence interfaces in memory so the full
// dequeue-to-status path can run against real queue and cache services.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*models.NotificationRecord
	tokens  []models.PushToken
}

func newMemoryStore(tokens ...models.PushToken) *memoryStore {
	return &memoryStore{
		records: make(map[string]*models.NotificationRecord),
		tokens:  tokens,
	}
}

func (m *memoryStore) Insert(ctx context.Context, record *models.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, notificationID string, sent bool, status models.PushStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[notificationID]; ok {
		record.PushSent = sent
		record.PushStatus = status
		record.ErrorMessage = errorMessage
	}
	return nil
}

func (m *memoryStore) FetchActiveByUser(ctx context.Context, userID string) ([]models.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PushToken
	for _, tok := range m.tokens {
		if tok.UserID == userID && tok.IsActive {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (m *memoryStore) Deactivate(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tokens {
		if m.tokens[i].Token == token {
			m.tokens[i].IsActive = false
		}
	}
	return nil
}

func (m *memoryStore) Upsert(ctx context.Context, token *models.PushToken) error { return nil }

func (m *memoryStore) Delete(ctx context.Context, userID, deviceID string) error { return nil }

func (m *memoryStore) FetchOrCreate(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	return models.DefaultPreferences(userID), nil
}

func (m *memoryStore) Save(ctx context.Context, prefs *models.NotificationPreferences) error {
	return nil
}

func (m *memoryStore) singleRecord(t *testing.T) *models.NotificationRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.records, 1)
	for _, record := range m.records {
		clone := *record
		return &clone
	}
	return nil
}

type scriptedGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *scriptedGateway) Send(ctx context.Context, req *push.Request) ([]push.Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	tickets := make([]push.Ticket, len(req.To))
	for i := range tickets {
		tickets[i] = push.Ticket{Status: "ok", ID: "ticket-id"}
	}
	return tickets, nil
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestPipeline_EnqueueToPersistedOKStatus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	log := logger.NewTestLogger(t)

	store := newMemoryStore(models.PushToken{
		UserID:   "42",
		DeviceID: "phone",
		Token:    "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]",
		IsActive: true,
	})
	gateway := &scriptedGateway{}

	queueService := queue.NewService(rdb, "test:events", time.Second, log)
	cacheService := cache.NewService(rdb, store, store, 72*time.Hour, 30*24*time.Hour, log)
	deliveryService := delivery.NewService(
		cacheService, store, store, gateway,
		delivery.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		"high", "default", log,
	)
	sup := NewSupervisor(queueService, store, deliveryService, nil, 2, 3*time.Second, log)

	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	require.NoError(t, queueService.Enqueue(context.Background(), &models.NotificationEvent{
		OrgID:            "org-1",
		UserID:           "42",
		NotificationType: models.TypePostComment,
		Title:            "New comment",
	}))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, record := range store.records {
			if record.PushStatus == models.PushStatusOK {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	record := store.singleRecord(t)
	assert.Equal(t, "42", record.UserID)
	assert.Equal(t, models.TypePostComment, record.Type)
	assert.Equal(t, "New comment", record.Title)
	assert.True(t, record.PushSent)
	assert.Equal(t, models.PushStatusOK, record.PushStatus)
	assert.Empty(t, record.ErrorMessage)
	assert.Equal(t, 1, gateway.callCount())

	// The queue is drained and the preference cache was warmed along the way.
	assert.Equal(t, int64(0), queueService.Size(context.Background()))
	assert.True(t, mr.Exists("prefs:42"))
}
