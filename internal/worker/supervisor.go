// internal/worker/supervisor.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
	"notification-pipeline/internal/common/observability"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/store"
	"notification-pipeline/internal/tenant"
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Queue is the consuming side of the event transport.
type Queue interface {
	Dequeue(ctx context.Context) (*models.NotificationEvent, error)
	Size(ctx context.Context) int64
}

// Delivery pushes one event to a user's devices.
type Delivery interface {
	Send(ctx context.Context, userID string, event *models.NotificationEvent, notificationID string) error
}

// Supervisor runs a fixed number of listener loops over the queue. Each
// dequeued event is handed to its own goroutine, so a slow gateway call never
// blocks the listeners; only the listener count is bounded, not the in-flight
// task count.
type Supervisor struct {
	queue         Queue
	notifications store.NotificationStore
	delivery      Delivery
	obs           *observability.Observability
	logger        logger.Logger

	listeners       int
	shutdownTimeout time.Duration

	state       atomic.Int32
	activeTasks atomic.Int64

	cancel    context.CancelFunc
	listenerW sync.WaitGroup
	taskW     sync.WaitGroup
}

func NewSupervisor(queue Queue, notifications store.NotificationStore, delivery Delivery, obs *observability.Observability, listeners int, shutdownTimeout time.Duration, log logger.Logger) *Supervisor {
	if listeners <= 0 {
		listeners = 2
	}
	return &Supervisor{
		queue:           queue,
		notifications:   notifications,
		delivery:        delivery,
		obs:             obs,
		listeners:       listeners,
		shutdownTimeout: shutdownTimeout,
		logger:          log.WithFields(map[string]interface{}{"component": "supervisor"}),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// ActiveTasks returns the number of in-flight per-message tasks.
func (s *Supervisor) ActiveTasks() int64 {
	return s.activeTasks.Load()
}

// Start launches the listener loops. Starting an already running supervisor
// is an error.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("supervisor is %s, cannot start", s.State())
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.listeners; i++ {
		s.listenerW.Add(1)
		go s.listen(runCtx, i)
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info("supervisor started", map[string]interface{}{
		"listeners": s.listeners,
	})
	return nil
}

// Stop drains the listeners, then waits up to the shutdown timeout for
// in-flight tasks. Tasks still running after the timeout are abandoned, which
// is acceptable under at-most-once delivery.
func (s *Supervisor) Stop() error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("supervisor is %s, cannot stop", s.State())
	}

	s.logger.Info("supervisor stopping", map[string]interface{}{
		"activeTasks": s.ActiveTasks(),
	})

	s.cancel()
	s.listenerW.Wait()

	done := make(chan struct{})
	go func() {
		s.taskW.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("shutdown timeout elapsed with tasks still in flight", map[string]interface{}{
			"activeTasks": s.ActiveTasks(),
		})
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("supervisor stopped", nil)
	return nil
}

// listen is one bounded consumer loop. It blocks on the queue, spawns a task
// per event, and reports the queue depth each pass.
func (s *Supervisor) listen(ctx context.Context, id int) {
	defer s.listenerW.Done()

	log := s.logger.WithFields(map[string]interface{}{"listener": id})
	log.Debug("listener started", nil)

	for {
		select {
		case <-ctx.Done():
			log.Debug("listener stopped", nil)
			return
		default:
		}

		metrics.QueueSize.Set(float64(s.queue.Size(ctx)))

		event, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("listener stopped", nil)
				return
			}
			continue
		}
		if event == nil {
			continue
		}

		// Detached from the listener context: shutdown drains in-flight
		// tasks instead of cancelling them mid-delivery.
		s.taskW.Add(1)
		go s.handleEvent(context.WithoutCancel(ctx), event)
	}
}

// handleEvent processes a single event end to end. It owns the task
// accounting and must never panic the process: a poisoned event is logged
// and counted, nothing more.
func (s *Supervisor) handleEvent(ctx context.Context, event *models.NotificationEvent) {
	s.activeTasks.Add(1)
	metrics.ActiveWorkers.Inc()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event task panicked", map[string]interface{}{
				"userId": event.UserID,
				"type":   string(event.NotificationType),
				"panic":  fmt.Sprintf("%v", r),
			})
			metrics.EventsProcessed.WithLabelValues(string(event.NotificationType), "panic").Inc()
		}
		s.activeTasks.Add(-1)
		metrics.ActiveWorkers.Dec()
		s.taskW.Done()
	}()

	taskCtx := tenant.NewContext(ctx, event.OrgID)

	record := &models.NotificationRecord{
		ID:         uuid.New().String(),
		UserID:     event.UserID,
		Type:       event.NotificationType,
		Title:      event.Title,
		Body:       event.Body,
		PushSent:   false,
		PushStatus: models.PushStatusPending,
		Metadata:   eventMetadata(event),
		CreatedAt:  time.Now().UTC(),
	}

	status := "ok"
	if err := s.notifications.Insert(taskCtx, record); err != nil {
		// Without a persisted record there is nothing to attach a push
		// outcome to; the event is dropped.
		s.logger.Error("notification insert failed, dropping event", map[string]interface{}{
			"userId": event.UserID,
			"type":   string(event.NotificationType),
			"error":  err.Error(),
		})
		status = "insert_failed"
	} else if err := s.delivery.Send(taskCtx, event.UserID, event, record.ID); err != nil {
		s.logger.Error("delivery returned unexpected error", map[string]interface{}{
			"userId":         event.UserID,
			"notificationId": record.ID,
			"error":          err.Error(),
		})
		status = "delivery_failed"
	}

	elapsed := time.Since(start)
	metrics.EventsProcessed.WithLabelValues(string(event.NotificationType), status).Inc()
	metrics.ProcessingDuration.WithLabelValues(string(event.NotificationType)).Observe(elapsed.Seconds())
	if s.obs != nil {
		s.obs.RecordEventProcessed(taskCtx, string(event.NotificationType), status)
		s.obs.RecordEventDuration(taskCtx, elapsed, string(event.NotificationType))
	}
}

func eventMetadata(event *models.NotificationEvent) map[string]interface{} {
	metadata := make(map[string]interface{})
	if event.RelatedEntityType != "" {
		metadata["relatedEntityType"] = event.RelatedEntityType
	}
	if event.RelatedEntityID != "" {
		metadata["relatedEntityId"] = event.RelatedEntityID
	}
	for k, v := range event.Data {
		metadata[k] = v
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
