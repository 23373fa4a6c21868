// internal/delivery/delivery.go
package delivery

import (
	"context"
	"fmt"
	"time"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/push"
	"notification-pipeline/internal/store"

	pipelineerrors "notification-pipeline/internal/common/errors"
)

// TokenCache is the slice of the cache layer delivery needs: token reads and
// the invalidation hook fired after a deactivation.
type TokenCache interface {
	GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	GetActiveTokens(ctx context.Context, userID string) ([]string, error)
	InvalidateUserCache(ctx context.Context, userID string) error
}

// RetryPolicy bounds the gateway retry loop. Backoff doubles per attempt and
// is capped; only transient failures are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is 3 total attempts, 1s initial backoff, 5s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
	}
}

// Service delivers one notification to all of a user's devices through the
// push gateway and records the outcome on the persisted record. Terminal
// failures are persisted, never returned to the listener loop.
type Service struct {
	cache         TokenCache
	notifications store.NotificationStore
	tokens        store.TokenStore
	gateway       push.Gateway
	retry         RetryPolicy
	priority      string
	sound         string
	logger        logger.Logger
}

func NewService(cache TokenCache, notifications store.NotificationStore, tokens store.TokenStore, gateway push.Gateway, retry RetryPolicy, priority, sound string, log logger.Logger) *Service {
	return &Service{
		cache:         cache,
		notifications: notifications,
		tokens:        tokens,
		gateway:       gateway,
		retry:         retry,
		priority:      priority,
		sound:         sound,
		logger:        log.WithFields(map[string]interface{}{"component": "delivery"}),
	}
}

// Send pushes the event to every active device of the user. A disabled
// preference or an empty token list is a silent, expected no-op.
func (s *Service) Send(ctx context.Context, userID string, event *models.NotificationEvent, notificationID string) error {
	log := s.logger.WithFields(map[string]interface{}{
		"userId":         userID,
		"notificationId": notificationID,
		"type":           string(event.NotificationType),
	})

	prefs, err := s.cache.GetPreferences(ctx, userID)
	if err != nil {
		return s.recordFailure(ctx, notificationID, log, fmt.Errorf("load preferences: %w", err))
	}
	if !prefs.Allows(event.NotificationType) {
		log.Debug("push disabled by preference, skipping", nil)
		return nil
	}

	tokens, err := s.cache.GetActiveTokens(ctx, userID)
	if err != nil {
		return s.recordFailure(ctx, notificationID, log, fmt.Errorf("load tokens: %w", err))
	}
	if len(tokens) == 0 {
		log.Debug("no active tokens, skipping", nil)
		return nil
	}

	req := &push.Request{
		To:       tokens,
		Title:    event.Title,
		Body:     event.Body,
		Data:     event.Data,
		Priority: s.priority,
		Sound:    s.sound,
	}

	tickets, err := s.sendWithRetry(ctx, req, log)
	if err != nil {
		return s.recordFailure(ctx, notificationID, log, err)
	}

	s.applyTickets(ctx, userID, notificationID, tokens, tickets, log)
	return nil
}

// sendWithRetry calls the gateway up to MaxAttempts times, backing off
// exponentially between transient failures. Permanent failures return
// immediately.
func (s *Service) sendWithRetry(ctx context.Context, req *push.Request, log logger.Logger) ([]push.Ticket, error) {
	backoff := s.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		tickets, err := s.gateway.Send(ctx, req)
		if err == nil {
			metrics.GatewayAttempts.WithLabelValues("ok").Inc()
			return tickets, nil
		}
		lastErr = err

		if !pipelineerrors.IsTransient(err) {
			metrics.GatewayAttempts.WithLabelValues("permanent_error").Inc()
			return nil, err
		}
		metrics.GatewayAttempts.WithLabelValues("transient_error").Inc()

		if attempt == s.retry.MaxAttempts {
			break
		}

		log.Warn("gateway call failed, retrying", map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": s.retry.MaxAttempts,
			"nextRetryIn": backoff.String(),
			"error":       err.Error(),
		})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		backoff *= 2
		if backoff > s.retry.MaxBackoff {
			backoff = s.retry.MaxBackoff
		}
	}

	return nil, lastErr
}

// applyTickets walks the positionally-aligned per-token results. One bad
// token deactivates only that token; the user's other deliveries stand.
func (s *Service) applyTickets(ctx context.Context, userID, notificationID string, tokens []string, tickets []push.Ticket, log logger.Logger) {
	anyOK := false
	deactivated := false
	var firstError string

	for i, ticket := range tickets {
		if i >= len(tokens) {
			log.Warn("gateway returned more tickets than tokens", map[string]interface{}{
				"tokens":  len(tokens),
				"tickets": len(tickets),
			})
			break
		}
		token := tokens[i]

		if ticket.OK() {
			anyOK = true
			continue
		}

		reason := ticket.Details.Error
		if reason == "" {
			reason = ticket.Message
		}
		if firstError == "" {
			firstError = reason
		}

		if ticket.InvalidatesToken() {
			log.Info("deactivating invalid token", map[string]interface{}{
				"token":  push.MaskToken(token),
				"reason": reason,
			})
			if err := s.tokens.Deactivate(ctx, token); err != nil {
				log.Error("token deactivation failed", map[string]interface{}{
					"token": push.MaskToken(token),
					"error": err.Error(),
				})
			} else {
				deactivated = true
			}
		} else {
			log.Warn("gateway rejected token", map[string]interface{}{
				"token":  push.MaskToken(token),
				"reason": reason,
			})
		}
	}

	if deactivated {
		// Next token read must come from the store, not a stale cache entry.
		if err := s.cache.InvalidateUserCache(ctx, userID); err != nil {
			log.Warn("cache invalidation after deactivation failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if anyOK {
		s.updateStatus(ctx, notificationID, true, models.PushStatusOK, "", log)
	} else {
		s.updateStatus(ctx, notificationID, false, models.PushStatusError, firstError, log)
	}
}

func (s *Service) recordFailure(ctx context.Context, notificationID string, log logger.Logger, err error) error {
	log.Error("delivery failed", map[string]interface{}{"error": err.Error()})
	s.updateStatus(ctx, notificationID, false, models.PushStatusError, truncateMessage(err.Error()), log)
	return nil
}

func (s *Service) updateStatus(ctx context.Context, notificationID string, sent bool, status models.PushStatus, message string, log logger.Logger) {
	if err := s.notifications.UpdateStatus(ctx, notificationID, sent, status, message); err != nil {
		log.Error("status update failed", map[string]interface{}{
			"status": string(status),
			"error":  err.Error(),
		})
	}
}

func truncateMessage(msg string) string {
	const max = 500
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
