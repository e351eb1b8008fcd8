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
)

var basketColumns = []string{"id", "user_id", "status", "payment_id", "payment_failure_count", "created_at", "updated_at", "version"}

var openBasketStatuses = []string{string(models.BasketCreated), string(models.BasketPaymentFailure)}

type basketRow struct {
	ID                  string         `db:"id"`
	UserID              string         `db:"user_id"`
	Status              string         `db:"status"`
	PaymentID           sql.NullString `db:"payment_id"`
	PaymentFailureCount int            `db:"payment_failure_count"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
	Version             int64          `db:"version"`
}

func (r basketRow) toModel() *models.Basket {
	b := &models.Basket{
		ID:                  r.ID,
		UserID:              r.UserID,
		Status:              models.BasketStatus(r.Status),
		PaymentFailureCount: r.PaymentFailureCount,
		Items:               []string{},
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		Version:             r.Version,
	}
	if r.PaymentID.Valid {
		id := r.PaymentID.String
		b.PaymentID = &id
	}
	return b
}

type basketItemRow struct {
	BasketID      string `db:"basket_id"`
	ReservationID string `db:"reservation_id"`
}

func (db *DB) CreateBasket(ctx context.Context, b *models.Basket) error {
	return db.Do(ctx, func(ctx context.Context) error {
		query, args, err := db.builder.Insert("baskets").
			Columns(basketColumns...).
			Values(b.ID, b.UserID, string(b.Status), nullString(b.PaymentID), b.PaymentFailureCount, b.CreatedAt, b.UpdatedAt, b.Version).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBuildQuery, err)
		}
		if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to create basket: %w", err)
		}
		return db.replaceItems(ctx, b)
	})
}

// UpdateBasket writes b under optimistic locking and rewrites its item list.
func (db *DB) UpdateBasket(ctx context.Context, b *models.Basket) error {
	return db.Do(ctx, func(ctx context.Context) error {
		query, args, err := db.builder.Update("baskets").
			Set("status", string(b.Status)).
			Set("payment_id", nullString(b.PaymentID)).
			Set("payment_failure_count", b.PaymentFailureCount).
			Set("updated_at", b.UpdatedAt).
			Set("version", b.Version+1).
			Where(squirrel.Eq{"id": b.ID, "version": b.Version}).
			ToSql()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBuildQuery, err)
		}
		res, err := db.executor(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update basket: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update basket: %w", err)
		}
		if n == 0 {
			return ErrConcurrentModification
		}
		if err := db.replaceItems(ctx, b); err != nil {
			return err
		}
		b.Version++
		return nil
	})
}

func (db *DB) replaceItems(ctx context.Context, b *models.Basket) error {
	query, args, err := db.builder.Delete("basket_items").Where(squirrel.Eq{"basket_id": b.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear basket items: %w", err)
	}
	if len(b.Items) == 0 {
		return nil
	}

	insert := db.builder.Insert("basket_items").Columns("basket_id", "reservation_id", "position")
	for i, id := range b.Items {
		insert = insert.Values(b.ID, id, i)
	}
	query, args, err = insert.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save basket items: %w", err)
	}
	return nil
}

func (db *DB) GetBasket(ctx context.Context, id string) (*models.Basket, error) {
	return db.getOneBasket(ctx, squirrel.Eq{"id": id})
}

// GetOpenBasketByUser returns the user's Created or PaymentFailure basket.
func (db *DB) GetOpenBasketByUser(ctx context.Context, userID string) (*models.Basket, error) {
	return db.getOneBasket(ctx, squirrel.Eq{"user_id": userID, "status": openBasketStatuses})
}

// FindOpenBasketByReservation returns the open basket holding reservationID, or ErrNotFound.
func (db *DB) FindOpenBasketByReservation(ctx context.Context, reservationID string) (*models.Basket, error) {
	return db.getOneBasket(ctx, squirrel.And{
		squirrel.Eq{"status": openBasketStatuses},
		squirrel.Expr("id IN (SELECT basket_id FROM basket_items WHERE reservation_id = ?)", reservationID),
	})
}

func (db *DB) getOneBasket(ctx context.Context, where squirrel.Sqlizer) (*models.Basket, error) {
	list, err := db.selectBaskets(ctx, db.builder.Select(basketColumns...).From("baskets").Where(where).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// ListExpiredBaskets returns open baskets untouched since cutoff, oldest first.
func (db *DB) ListExpiredBaskets(ctx context.Context, cutoff time.Time, limit int) ([]*models.Basket, error) {
	sel := db.builder.Select(basketColumns...).
		From("baskets").
		Where(squirrel.Eq{"status": openBasketStatuses}).
		Where(squirrel.Lt{"updated_at": cutoff.UTC()}).
		OrderBy("updated_at")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	return db.selectBaskets(ctx, sel)
}

func (db *DB) selectBaskets(ctx context.Context, sel squirrel.SelectBuilder) ([]*models.Basket, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	var rows []basketRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &rows, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query baskets: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	list := make([]*models.Basket, 0, len(rows))
	byID := make(map[string]*models.Basket, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		b := r.toModel()
		list = append(list, b)
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	itemQuery, itemArgs, err := db.builder.Select("basket_id", "reservation_id").
		From("basket_items").
		Where(squirrel.Eq{"basket_id": ids}).
		OrderBy("basket_id", "position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	var items []basketItemRow
	if err := sqlx.SelectContext(ctx, db.executor(ctx), &items, itemQuery, itemArgs...); err != nil {
		return nil, fmt.Errorf("failed to query basket items: %w", err)
	}
	for _, it := range items {
		if b, ok := byID[it.BasketID]; ok {
			b.Items = append(b.Items, it.ReservationID)
		}
	}
	return list, nil
}
