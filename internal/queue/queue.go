// internal/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"

	pipelineerrors "notification-pipeline/internal/common/errors"

	"github.com/redis/go-redis/v9"
	"github.com/xeipuuv/gojsonschema"
)

// eventSchema is validated against every payload before it is pushed. A
// malformed event is a producer bug and must be rejected at the door, not
// discovered by a listener.
var eventSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"orgId":             map[string]interface{}{"type": "string", "minLength": 1},
		"userId":            map[string]interface{}{"type": "string", "minLength": 1},
		"notificationType":  map[string]interface{}{"type": "string", "minLength": 1},
		"title":             map[string]interface{}{"type": "string"},
		"body":              map[string]interface{}{"type": "string"},
		"relatedEntityType": map[string]interface{}{"type": "string"},
		"relatedEntityId":   map[string]interface{}{"type": "string"},
		"data":              map[string]interface{}{"type": "object"},
	},
	"required": []interface{}{"orgId", "userId", "notificationType"},
}

// Service is a durable FIFO transport for notification events over a Redis
// list. Writes surface errors; reads degrade silently.
type Service struct {
	rdb            *redis.Client
	key            string
	dequeueTimeout time.Duration
	logger         logger.Logger
}

func NewService(rdb *redis.Client, key string, dequeueTimeout time.Duration, log logger.Logger) *Service {
	return &Service{
		rdb:            rdb,
		key:            key,
		dequeueTimeout: dequeueTimeout,
		logger:         log.WithFields(map[string]interface{}{"component": "queue", "key": key}),
	}
}

// Enqueue validates and appends an event to the tail of the queue. A failure
// here propagates to the caller: event loss risk is never swallowed.
func (s *Service) Enqueue(ctx context.Context, event *models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return pipelineerrors.NewQueuePushFailedError(err)
	}

	if err := validateEvent(payload); err != nil {
		return err
	}

	if err := s.rdb.RPush(ctx, s.key, payload).Err(); err != nil {
		return pipelineerrors.NewQueuePushFailedError(err)
	}
	return nil
}

// Dequeue blocks on the head of the queue for the configured timeout. A
// timeout returns (nil, nil) so the caller can loop and re-check shutdown
// state. A corrupt payload is logged and dropped rather than raised: queue
// corruption must not halt the listener.
func (s *Service) Dequeue(ctx context.Context) (*models.NotificationEvent, error) {
	res, err := s.rdb.BLPop(ctx, s.dequeueTimeout, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("dequeue failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	// BLPop returns [key, value].
	if len(res) < 2 {
		return nil, nil
	}

	var event models.NotificationEvent
	if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
		serErr := pipelineerrors.NewSerializationError("queue", err)
		s.logger.Error("dropping corrupt queue payload", map[string]interface{}{
			"error": serErr.Details,
		})
		return nil, nil
	}

	return &event, nil
}

// Size returns the approximate queue length for observability only. Errors
// degrade to zero.
func (s *Service) Size(ctx context.Context) int64 {
	n, err := s.rdb.LLen(ctx, s.key).Result()
	if err != nil {
		return 0
	}
	return n
}

func validateEvent(payload []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(eventSchema)
	documentLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return pipelineerrors.NewQueuePushFailedError(err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return pipelineerrors.NewQueuePushFailedError(fmt.Errorf("event validation failed: %v", errs))
	}

	return nil
}
