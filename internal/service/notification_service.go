package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-counseling-api/internal/models"
	"github.com/noah-isme/campus-counseling-api/pkg/config"
	"github.com/noah-isme/campus-counseling-api/pkg/jobs"
)

// NotificationSink receives status change events for outward delivery.
// Implementations may fan out to mail, push, or a broker.
type NotificationSink interface {
	Deliver(ctx context.Context, event models.StatusChangeEvent) error
}

// NotificationSinkFunc allows plain functions as sinks.
type NotificationSinkFunc func(ctx context.Context, event models.StatusChangeEvent) error

// Deliver implements NotificationSink.
func (f NotificationSinkFunc) Deliver(ctx context.Context, event models.StatusChangeEvent) error {
	return f(ctx, event)
}

// LogSink is the default sink. It records events in the structured log, which
// keeps the one-event-per-transition contract observable without an external
// delivery channel.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a sink over the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver implements NotificationSink.
func (s *LogSink) Deliver(_ context.Context, event models.StatusChangeEvent) error {
	s.logger.Info("status change notification",
		zap.String("appointment_id", event.AppointmentID),
		zap.String("kind", event.Kind),
		zap.String("old_status", string(event.OldStatus)),
		zap.String("new_status", string(event.NewStatus)),
		zap.String("recipient", event.Recipient),
	)
	return nil
}

// NotificationService dispatches status change events asynchronously through
// a worker queue. Publish never blocks the booking path on sink latency.
type NotificationService struct {
	queue   *jobs.Queue
	logger  *zap.Logger
	metrics *MetricsService
}

// NewNotificationService wires a sink behind the worker queue.
func NewNotificationService(sink NotificationSink, metrics *MetricsService, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}

	svc := &NotificationService{logger: logger, metrics: metrics}
	svc.queue = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.StatusChangeEvent)
		if !ok {
			logger.Error("discarding notification job with unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return sink.Deliver(ctx, event)
	}, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues exactly one event. Failures are logged, never propagated;
// a completed transition must not be rolled back because dispatch stalled.
func (s *NotificationService) Publish(_ context.Context, event models.StatusChangeEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "status_change",
		Payload: event,
	})
	if err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("appointment_id", event.AppointmentID), zap.Error(err))
		return
	}
	s.metrics.RecordNotification(event.Kind)
}
