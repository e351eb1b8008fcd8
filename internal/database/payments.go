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

var paymentColumns = []string{
	"id", "basket_id", "amount", "method", "status", "external_transaction_id", "failure_reason", "created_at", "updated_at",
}

type paymentRow struct {
	ID                    string          `db:"id"`
	BasketID              string          `db:"basket_id"`
	Amount                decimal.Decimal `db:"amount"`
	Method                string          `db:"method"`
	Status                string          `db:"status"`
	ExternalTransactionID sql.NullString  `db:"external_transaction_id"`
	FailureReason         sql.NullString  `db:"failure_reason"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

func (r paymentRow) toModel() *models.Payment {
	p := &models.Payment{
		ID:        r.ID,
		BasketID:  r.BasketID,
		Amount:    r.Amount,
		Method:    r.Method,
		Status:    models.PaymentStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExternalTransactionID.Valid {
		v := r.ExternalTransactionID.String
		p.ExternalTransactionID = &v
	}
	if r.FailureReason.Valid {
		v := r.FailureReason.String
		p.FailureReason = &v
	}
	return p
}

func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	query, args, err := db.builder.Insert("payments").
		Columns(paymentColumns...).
		Values(p.ID, p.BasketID, p.Amount.String(), p.Method, string(p.Status),
			nullString(p.ExternalTransactionID), nullString(p.FailureReason), p.CreatedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	if _, err := db.executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// UpdatePayment persists the status fields. Amount and method never change.
func (db *DB) UpdatePayment(ctx context.Context, p *models.Payment) error {
	query, args, err := db.builder.Update("payments").
		Set("status", string(p.Status)).
		Set("external_transaction_id", nullString(p.ExternalTransactionID)).
		Set("failure_reason", nullString(p.FailureReason)).
		Set("updated_at", p.UpdatedAt).
		Where(squirrel.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	res, err := db.executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	query, args, err := db.builder.Select(paymentColumns...).
		From("payments").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildQuery, err)
	}
	var row paymentRow
	if err := sqlx.GetContext(ctx, db.executor(ctx), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return row.toModel(), nil
}
