package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"petboarding/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var slotColumns = []string{"id", "planning_id", "date", "max_capacity", "reserved_capacity", "created_at", "updated_at"}

type planningRow struct {
	ID           string          `db:"id"`
	PrestationID string          `db:"prestation_id"`
	Name         string          `db:"name"`
	Description  string          `db:"description"`
	IsActive     bool            `db:"is_active"`
	DailyRate    decimal.Decimal `db:"daily_rate"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r planningRow) toModel() *models.Planning {
	return &models.Planning{
		ID:           r.ID,
		PrestationID: r.PrestationID,
		Name:         r.Name,
		Description:  r.Description,
		IsActive:     r.IsActive,
		DailyRate:    r.DailyRate,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type slotRow struct {
	ID               string    `db:"id"`
	PlanningID       string    `db:"planning_id"`
	Date             string    `db:"date"`
	MaxCapacity      int       `db:"max_capacity"`
	ReservedCapacity int       `db:"reserved_capacity"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r slotRow) toModel() (*models.AvailableSlot, error) {
	date, err := models.ParseDate(r.Date)
	if err != nil {
		return nil, fmt.Errorf("slot %s has bad date %q: %w", r.ID, r.Date, err)
	}
	return &models.AvailableSlot{
		ID:               r.ID,
		PlanningID:       r.PlanningID,
		Date:             date,
		MaxCapacity:      r.MaxCapacity,
		ReservedCapacity: r.ReservedCapacity,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

// CreatePlanning stores a planning together with its slots.
func (db *DB) CreatePlanning(ctx context.Context, p *models.Planning) error {
	return db.Do(ctx, func(ctx context.Context) error {
		query, args, err := db.builder.Insert("plannings").
			Columns("id", "prestation_id", "name", "description", "is_active", "daily_rate", "created_at", "updated_at").
			Values(p.ID, p.PrestationID, p.Name, p.Description, p.IsActive, p.DailyRate.String(), p.CreatedAt, p.UpdatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBuildQuery, err)
		}
		if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to create planning: %w", err)
		}
		return db.AddSlots(ctx, p.Slots)
	})
}

// AddSlots inserts new capacity buckets.
func (db *DB) AddSlots(ctx context.Context, slots []*models.AvailableSlot) error {
	if len(slots) == 0 {
		return nil
	}
	insert := db.builder.Insert("available_slots").Columns(slotColumns...)
	for _, s := range slots {
		insert = insert.Values(s.ID, s.PlanningID, s.Date.Format(models.DateLayout), s.MaxCapacity, s.ReservedCapacity, s.CreatedAt, s.UpdatedAt)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to add slots: %w", err)
	}
	return nil
}

func (db *DB) GetPlanning(ctx context.Context, id string) (*models.Planning, error) {
	return db.getPlanning(ctx, squirrel.Eq{"id": id}, time.Time{}, time.Time{})
}

func (db *DB) GetPlanningByPrestation(ctx context.Context, prestationID string) (*models.Planning, error) {
	return db.getPlanning(ctx, squirrel.Eq{"prestation_id": prestationID, "is_active": true}, time.Time{}, time.Time{})
}

// GetPlanningForRange loads a planning with only the slots in [from, to].
func (db *DB) GetPlanningForRange(ctx context.Context, id string, from, to time.Time) (*models.Planning, error) {
	return db.getPlanning(ctx, squirrel.Eq{"id": id}, from, to)
}

func (db *DB) getPlanning(ctx context.Context, where squirrel.Sqlizer, from, to time.Time) (*models.Planning, error) {
	query, args, err := db.builder.
		Select("id", "prestation_id", "name", "description", "is_active", "daily_rate", "created_at", "updated_at").
		From("plannings").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	var row planningRow
	if err := sqlx.GetContext(ctx, db.executor(ctx), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get planning: %w", err)
	}

	p := row.toModel()
	p.Slots, err = db.listSlots(ctx, p.ID, from, to)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (db *DB) ListPlannings(ctx context.Context, activeOnly bool) ([]*models.Planning, error) {
	sel := db.builder.
		Select("id", "prestation_id", "name", "description", "is_active", "daily_rate", "created_at", "updated_at").
		From("plannings").
		OrderBy("name")
	if activeOnly {
		sel = sel.Where(squirrel.Eq{"is_active": true})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	var rows []planningRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list plannings: %w", err)
	}
	plannings := make([]*models.Planning, 0, len(rows))
	for _, r := range rows {
		plannings = append(plannings, r.toModel())
	}
	return plannings, nil
}

func (db *DB) listSlots(ctx context.Context, planningID string, from, to time.Time) ([]*models.AvailableSlot, error) {
	sel := db.builder.Select(slotColumns...).
		From("available_slots").
		Where(squirrel.Eq{"planning_id": planningID}).
		OrderBy("date")
	if !from.IsZero() {
		sel = sel.Where(squirrel.GtOrEq{"date": from.Format(models.DateLayout)})
	}
	if !to.IsZero() {
		sel = sel.Where(squirrel.LtOrEq{"date": to.Format(models.DateLayout)})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	var rows []slotRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	slots := make([]*models.AvailableSlot, 0, len(rows))
	for _, r := range rows {
		s, err := r.toModel()
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func (db *DB) GetSlot(ctx context.Context, id string) (*models.AvailableSlot, error) {
	query, args, err := db.builder.Select(slotColumns...).
		From("available_slots").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	var row slotRow
	if err := sqlx.GetContext(ctx, db.executor(ctx), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return row.toModel()
}

// ReserveCapacity atomically adds quantity to a slot only if the result stays within max_capacity.
// It returns ErrCapacityConflict when the slot is full and ErrNotFound when it does not exist.
func (db *DB) ReserveCapacity(ctx context.Context, slotID string, quantity int) error {
	query, args, err := db.builder.Update("available_slots").
		Set("reserved_capacity", squirrel.Expr("reserved_capacity + ?", quantity)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": slotID}).
		Where(squirrel.Expr("reserved_capacity + ? <= max_capacity", quantity)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	res, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if n == 0 {
		if _, err := db.GetSlot(ctx, slotID); err != nil {
			return err
		}
		return ErrCapacityConflict
	}
	return nil
}

// ReleaseCapacity gives back quantity, flooring reserved_capacity at zero.
func (db *DB) ReleaseCapacity(ctx context.Context, slotID string, quantity int) error {
	query, args, err := db.builder.Update("available_slots").
		Set("reserved_capacity", squirrel.Expr("MAX(reserved_capacity - ?, 0)", quantity)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": slotID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	res, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
