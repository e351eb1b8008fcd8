package worker

import (
	"math"
	"time"

	"petboarding/internal/models"
)

// RetryPolicy decides what happens to a notification task whose delivery failed.
// Zero fields fall back to the notifications.queue defaults.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Minute
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = 2
	}
	return r
}

// Delay is the wait before delivery attempt number attempt (1-based), capped at MaxDelay.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	r = r.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1)))
	if d <= 0 || d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// retryDecision is the next queue state of a failed task.
type retryDecision struct {
	Status      string
	NextRetryAt *time.Time
}

func (d retryDecision) deadLetter() bool {
	return d.Status == models.TaskStatusFailed
}

// Decide moves a failed task to retry with its next_retry_at, or to failed once it has
// used up MaxRetries deliveries.
func (r RetryPolicy) Decide(task *models.NotificationTask, now time.Time) retryDecision {
	r = r.withDefaults()
	attempt := task.RetryCount + 1
	if attempt >= r.MaxRetries {
		return retryDecision{Status: models.TaskStatusFailed}
	}
	next := now.UTC().Add(r.Delay(attempt))
	return retryDecision{Status: models.TaskStatusRetry, NextRetryAt: &next}
}
