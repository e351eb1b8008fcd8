package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/metrics"
	"petboarding/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	notificationQueueKey      = "petboarding:notifications"
	notificationDeadLetterKey = "petboarding:notifications:deadletter"
)

// subjectRef picks the entity id out of any event payload.
type subjectRef struct {
	ReservationID string `json:"reservation_id"`
	PaymentID     string `json:"payment_id"`
	BasketID      string `json:"basket_id"`
}

func (s subjectRef) id() string {
	switch {
	case s.ReservationID != "":
		return s.ReservationID
	case s.PaymentID != "":
		return s.PaymentID
	default:
		return s.BasketID
	}
}

// NotificationWorker consumes notification_queue tasks and hands them to every notifier.
type NotificationWorker struct {
	queue         domain.NotificationQueue
	notifiers     []domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotificationWorker(
	queue domain.NotificationQueue,
	notifiers []domain.Notifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	pollInterval time.Duration,
	logger *zerolog.Logger,
) *NotificationWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		queue:         queue,
		notifiers:     notifiers,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		local:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: notificationQueueKey,
		deadLetterKey: notificationDeadLetterKey,
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// Subscribe makes the worker receive every event published on bus.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	for _, t := range events.AllTypes {
		bus.Subscribe(t, w.HandleEvent)
	}
}

func (w *NotificationWorker) HandleEvent(e *events.Event) error {
	return w.EnqueueEvent(context.Background(), e.Type, e.Payload)
}

// EnqueueEvent persists the event and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) EnqueueEvent(ctx context.Context, eventType string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	var ref subjectRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	task := models.NotificationTask{
		EventType: eventType,
		SubjectID: ref.id(),
		Payload:   string(payload),
		Status:    models.TaskStatusPending,
	}
	if err := w.queue.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.local <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Int("notifiers", len(w.notifiers)).Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.queue.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending notifications")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}
		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.local:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP error")
		}
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	var errs []error
	for _, n := range w.notifiers {
		if err := n.Notify(ctx, task.EventType, []byte(task.Payload)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification(models.TaskStatusCompleted)
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	decision := w.retryPolicy.Decide(task, time.Now())
	metrics.IncNotification(decision.Status)
	if decision.deadLetter() {
		w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event_type", task.EventType).Msg("notification dead-lettered")
	}
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, decision.Status, cause.Error(), decision.NextRetryAt); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Str("status", decision.Status).Msg("update task status")
	}
	if decision.deadLetter() {
		w.pushDeadLetter(ctx, task)
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
