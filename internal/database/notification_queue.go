package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"petboarding/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var taskColumns = []string{
	"id", "event_type", "subject_id", "payload", "status", "retry_count", "last_error", "created_at", "processed_at", "next_retry_at",
}

type taskRow struct {
	ID          int64          `db:"id"`
	EventType   string         `db:"event_type"`
	SubjectID   string         `db:"subject_id"`
	Payload     string         `db:"payload"`
	Status      string         `db:"status"`
	RetryCount  int            `db:"retry_count"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
	NextRetryAt sql.NullTime   `db:"next_retry_at"`
}

func (r taskRow) toModel() models.NotificationTask {
	t := models.NotificationTask{
		ID:         r.ID,
		EventType:  r.EventType,
		SubjectID:  r.SubjectID,
		Payload:    r.Payload,
		Status:     r.Status,
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt,
	}
	if r.LastError.Valid {
		v := r.LastError.String
		t.LastError = &v
	}
	if r.ProcessedAt.Valid {
		v := r.ProcessedAt.Time
		t.ProcessedAt = &v
	}
	if r.NextRetryAt.Valid {
		v := r.NextRetryAt.Time
		t.NextRetryAt = &v
	}
	return t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	query, args, err := db.builder.Insert("notification_queue").
		Columns("event_type", "subject_id", "payload", "status", "retry_count", "last_error", "created_at", "next_retry_at").
		Values(task.EventType, task.SubjectID, task.Payload, task.Status, task.RetryCount, nullString(task.LastError), now, nullTime(task.NextRetryAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	result, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

// GetPendingNotificationTasks returns tasks that are due, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	return db.selectTasks(ctx, db.builder.Select(taskColumns...).
		From("notification_queue").
		Where(squirrel.Eq{"status": []string{models.TaskStatusPending, models.TaskStatusRetry}}).
		Where(squirrel.Or{squirrel.Eq{"next_retry_at": nil}, squirrel.LtOrEq{"next_retry_at": time.Now().UTC()}}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)))
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	return db.selectTasks(ctx, db.builder.Select(taskColumns...).
		From("notification_queue").
		Where(squirrel.Eq{"status": models.TaskStatusFailed}).
		OrderBy("created_at DESC"))
}

func (db *DB) selectTasks(ctx context.Context, sel squirrel.SelectBuilder) ([]models.NotificationTask, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get notification tasks: %w", err)
	}
	tasks := make([]models.NotificationTask, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	return tasks, nil
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	upd := db.builder.Update("notification_queue").
		Set("status", status).
		Set("last_error", errMsg).
		Set("next_retry_at", nullTime(nextRetryAt)).
		Where(squirrel.Eq{"id": id})

	switch status {
	case models.TaskStatusRetry:
		upd = upd.Set("retry_count", squirrel.Expr("retry_count + 1"))
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		upd = upd.Set("processed_at", time.Now().UTC())
	}

	query, args, err := upd.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}
