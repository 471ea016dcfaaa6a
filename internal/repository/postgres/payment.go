package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

const paymentColumns = `id, driver_id, amount, method, state, gateway_reference, failure_reason, refund_reason,
		created_at, confirmed_at, failed_at, refunded_at, version`

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new payment together with its creation event.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment, event *domain.Event) error {
	query := `
		INSERT INTO payments (id, driver_id, amount, method, state, gateway_reference, failure_reason, refund_reason,
			created_at, confirmed_at, failed_at, refunded_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			payment.ID,
			payment.DriverID,
			payment.Amount,
			payment.Method,
			payment.State,
			nullString(payment.GatewayReference),
			nullString(payment.FailureReason),
			nullString(payment.RefundReason),
			payment.CreatedAt,
			nullTime(payment.ConfirmedAt),
			nullTime(payment.FailedAt),
			nullTime(payment.RefundedAt),
		); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		payment.Version = 1
		return nil
	})
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, translateError(err)
	}

	return payment, nil
}

// ListByDriver retrieves all payments of a driver, oldest first.
func (r *PaymentRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE driver_id = $1 ORDER BY created_at ASC`

	return r.list(ctx, query, driverID)
}

// ListByState retrieves up to limit payments in state created within [from, to), oldest first.
func (r *PaymentRepository) ListByState(ctx context.Context, state domain.PaymentState, from, to time.Time, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE state = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4`

	return r.list(ctx, query, state, from, to, limit)
}

// Update stores payment if its version still matches, then bumps the version.
func (r *PaymentRepository) Update(ctx context.Context, payment *domain.Payment, event *domain.Event) error {
	query := `
		UPDATE payments
		SET state = $1, gateway_reference = $2, failure_reason = $3, refund_reason = $4,
			confirmed_at = $5, failed_at = $6, refunded_at = $7, version = version + 1
		WHERE id = $8 AND version = $9
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			payment.State,
			nullString(payment.GatewayReference),
			nullString(payment.FailureReason),
			nullString(payment.RefundReason),
			nullTime(payment.ConfirmedAt),
			nullTime(payment.FailedAt),
			nullTime(payment.RefundedAt),
			payment.ID,
			payment.Version,
		)
		if err != nil {
			return err
		}
		if err := checkVersioned(ctx, tx, "payments", payment.ID, result); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		payment.Version++
		return nil
	})
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, translateError(err)
		}
		payments = append(payments, payment)
	}

	return payments, translateError(rows.Err())
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var gatewayRef, failureReason, refundReason sql.NullString
	var confirmedAt, failedAt, refundedAt sql.NullTime

	if err := row.Scan(
		&payment.ID,
		&payment.DriverID,
		&payment.Amount,
		&payment.Method,
		&payment.State,
		&gatewayRef,
		&failureReason,
		&refundReason,
		&payment.CreatedAt,
		&confirmedAt,
		&failedAt,
		&refundedAt,
		&payment.Version,
	); err != nil {
		return nil, err
	}

	payment.GatewayReference = gatewayRef.String
	payment.FailureReason = failureReason.String
	payment.RefundReason = refundReason.String
	payment.ConfirmedAt = confirmedAt.Time
	payment.FailedAt = failedAt.Time
	payment.RefundedAt = refundedAt.Time

	return &payment, nil
}

// Ensure PaymentRepository implements repository.PaymentRepository.
var _ repository.PaymentRepository = (*PaymentRepository)(nil)
