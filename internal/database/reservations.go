package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"petboarding/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var reservationColumns = []string{
	"id", "user_id", "animal_id", "animal_name", "service_id", "start_date", "end_date",
	"comments", "quantity", "status", "total_price", "created_at", "updated_at", "version",
}

var linkColumns = []string{"id", "reservation_id", "available_slot_id", "slot_date", "quantity", "reserved_at", "released_at"}

type reservationRow struct {
	ID         string              `db:"id"`
	UserID     string              `db:"user_id"`
	AnimalID   string              `db:"animal_id"`
	AnimalName string              `db:"animal_name"`
	ServiceID  string              `db:"service_id"`
	StartDate  string              `db:"start_date"`
	EndDate    sql.NullString      `db:"end_date"`
	Comments   sql.NullString      `db:"comments"`
	Quantity   int                 `db:"quantity"`
	Status     string              `db:"status"`
	TotalPrice decimal.NullDecimal `db:"total_price"`
	CreatedAt  time.Time           `db:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at"`
	Version    int64               `db:"version"`
}

func (r reservationRow) toModel() (*models.Reservation, error) {
	start, err := models.ParseDate(r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("reservation %s has bad start date: %w", r.ID, err)
	}
	res := &models.Reservation{
		ID:         r.ID,
		UserID:     r.UserID,
		AnimalID:   r.AnimalID,
		AnimalName: r.AnimalName,
		ServiceID:  r.ServiceID,
		StartDate:  start,
		Quantity:   r.Quantity,
		Status:     models.ReservationStatus(r.Status),
		TotalPrice: r.TotalPrice,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Version:    r.Version,
	}
	if r.EndDate.Valid {
		end, err := models.ParseDate(r.EndDate.String)
		if err != nil {
			return nil, fmt.Errorf("reservation %s has bad end date: %w", r.ID, err)
		}
		res.EndDate = &end
	}
	if r.Comments.Valid {
		c := r.Comments.String
		res.Comments = &c
	}
	return res, nil
}

type linkRow struct {
	ID              string       `db:"id"`
	ReservationID   string       `db:"reservation_id"`
	AvailableSlotID string       `db:"available_slot_id"`
	SlotDate        string       `db:"slot_date"`
	Quantity        int          `db:"quantity"`
	ReservedAt      time.Time    `db:"reserved_at"`
	ReleasedAt      sql.NullTime `db:"released_at"`
}

func (r linkRow) toModel() (*models.ReservationSlot, error) {
	date, err := models.ParseDate(r.SlotDate)
	if err != nil {
		return nil, fmt.Errorf("slot link %s has bad date: %w", r.ID, err)
	}
	link := &models.ReservationSlot{
		ID:              r.ID,
		ReservationID:   r.ReservationID,
		AvailableSlotID: r.AvailableSlotID,
		SlotDate:        date,
		Quantity:        r.Quantity,
		ReservedAt:      r.ReservedAt,
	}
	if r.ReleasedAt.Valid {
		t := r.ReleasedAt.Time
		link.ReleasedAt = &t
	}
	return link, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(models.DateLayout), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullPrice(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	return db.Do(ctx, func(ctx context.Context) error {
		query, args, err := db.builder.Insert("reservations").
			Columns(reservationColumns...).
			Values(r.ID, r.UserID, r.AnimalID, r.AnimalName, r.ServiceID, r.StartDate.Format(models.DateLayout),
				nullDate(r.EndDate), nullString(r.Comments), r.Quantity, string(r.Status), nullPrice(r.TotalPrice),
				r.CreatedAt, r.UpdatedAt, r.Version).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBuildQuery, err)
		}
		if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		return db.saveLinks(ctx, r.Slots)
	})
}

// UpdateReservation writes r if nobody changed it since it was loaded, then bumps its version.
// New slot links are inserted and released ones get their released_at stamped.
func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	return db.Do(ctx, func(ctx context.Context) error {
		query, args, err := db.builder.Update("reservations").
			Set("start_date", r.StartDate.Format(models.DateLayout)).
			Set("end_date", nullDate(r.EndDate)).
			Set("comments", nullString(r.Comments)).
			Set("quantity", r.Quantity).
			Set("status", string(r.Status)).
			Set("total_price", nullPrice(r.TotalPrice)).
			Set("updated_at", r.UpdatedAt).
			Set("version", r.Version+1).
			Where(squirrel.Eq{"id": r.ID, "version": r.Version}).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBuildQuery, err)
		}

		res, err := db.executor(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}
		if n == 0 {
			return ErrConcurrentModification
		}
		if err := db.saveLinks(ctx, r.Slots); err != nil {
			return err
		}
		r.Version++
		return nil
	})
}

func (db *DB) saveLinks(ctx context.Context, links []*models.ReservationSlot) error {
	if len(links) == 0 {
		return nil
	}
	insert := db.builder.Insert("reservation_slots").Columns(linkColumns...)
	for _, l := range links {
		var released sql.NullTime
		if l.ReleasedAt != nil {
			released = sql.NullTime{Time: *l.ReleasedAt, Valid: true}
		}
		insert = insert.Values(l.ID, l.ReservationID, l.AvailableSlotID, l.SlotDate.Format(models.DateLayout), l.Quantity, l.ReservedAt, released)
	}
	// released_at is the only mutable column
	query, args, err := insert.
		Suffix("ON CONFLICT(id) DO UPDATE SET released_at = COALESCE(reservation_slots.released_at, excluded.released_at)").
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save slot links: %w", err)
	}
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	list, err := db.selectReservations(ctx, db.builder.Select(reservationColumns...).
		From("reservations").
		Where(squirrel.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// GetReservations loads the given ids. Unknown ids are skipped.
func (db *DB) GetReservations(ctx context.Context, ids []string) ([]*models.Reservation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return db.selectReservations(ctx, db.builder.Select(reservationColumns...).
		From("reservations").
		Where(squirrel.Eq{"id": ids}).
		OrderBy("created_at"))
}

func (db *DB) ListReservationsByUser(ctx context.Context, userID string) ([]*models.Reservation, error) {
	return db.selectReservations(ctx, db.builder.Select(reservationColumns...).
		From("reservations").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC"))
}

// ListExpiredReservations returns Created reservations created before cutoff that no open
// basket holds, oldest first.
func (db *DB) ListExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]*models.Reservation, error) {
	sel := db.builder.Select(reservationColumns...).
		From("reservations").
		Where(squirrel.Eq{"status": string(models.ReservationCreated)}).
		Where(squirrel.Lt{"created_at": cutoff.UTC()}).
		Where(squirrel.Expr(
			"NOT EXISTS (SELECT 1 FROM basket_items bi JOIN baskets b ON b.id = bi.basket_id"+
				" WHERE bi.reservation_id = reservations.id AND b.status IN (?, ?))",
			openBasketStatuses[0], openBasketStatuses[1],
		)).
		OrderBy("created_at")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	return db.selectReservations(ctx, sel)
}

func (db *DB) selectReservations(ctx context.Context, sel squirrel.SelectBuilder) ([]*models.Reservation, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	list := make([]*models.Reservation, 0, len(rows))
	byID := make(map[string]*models.Reservation, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, err
		}
		list = append(list, r)
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	linkQuery, linkArgs, err := db.builder.Select(linkColumns...).
		From("reservation_slots").
		Where(squirrel.Eq{"reservation_id": ids}).
		OrderBy("slot_date", "reserved_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	var links []linkRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &links, linkQuery, linkArgs...); err != nil {
		return nil, fmt.Errorf("failed to query slot links: %w", err)
	}
	for _, lr := range links {
		l, err := lr.toModel()
		if err != nil {
			return nil, err
		}
		if r, ok := byID[l.ReservationID]; ok {
			r.Slots = append(r.Slots, l)
		}
	}
	return list, nil
}
