package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

const ecardColumns = `id, driver_id, state, linked_payment_id, suspend_reason, revoke_reason, created_at,
		issued_at, activated_at, suspended_at, revoked_at, expired_at, expires_at, version`

// ECardRepository is a PostgreSQL implementation of repository.ECardRepository.
type ECardRepository struct {
	db *sql.DB
}

// NewECardRepository creates a new PostgreSQL E-Card repository.
func NewECardRepository(db *sql.DB) *ECardRepository {
	return &ECardRepository{db: db}
}

// Create persists a new card. The ecards_one_current_per_driver index
// rejects a second current card for the same driver.
func (r *ECardRepository) Create(ctx context.Context, card *domain.ECard, event *domain.Event) error {
	query := `
		INSERT INTO ecards (id, driver_id, state, linked_payment_id, suspend_reason, revoke_reason, created_at,
			issued_at, activated_at, suspended_at, revoked_at, expired_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			card.ID,
			card.DriverID,
			card.State,
			nullString(card.LinkedPaymentID),
			nullString(card.SuspendReason),
			nullString(card.RevokeReason),
			card.CreatedAt,
			nullTime(card.IssuedAt),
			nullTime(card.ActivatedAt),
			nullTime(card.SuspendedAt),
			nullTime(card.RevokedAt),
			nullTime(card.ExpiredAt),
			nullTime(card.ExpiresAt),
		); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		card.Version = 1
		return nil
	})
}

// GetByID retrieves a card by ID.
func (r *ECardRepository) GetByID(ctx context.Context, id string) (*domain.ECard, error) {
	query := `SELECT ` + ecardColumns + ` FROM ecards WHERE id = $1`

	card, err := scanECard(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, translateError(err)
	}

	return card, nil
}

// GetCurrentByDriver retrieves the driver's current card.
// Returns nil if the driver has none.
func (r *ECardRepository) GetCurrentByDriver(ctx context.Context, driverID string) (*domain.ECard, error) {
	query := `SELECT ` + ecardColumns + `
		FROM ecards
		WHERE driver_id = $1 AND state IN ('eligible', 'issued', 'active', 'suspended')
		LIMIT 1`

	card, err := scanECard(r.db.QueryRowContext(ctx, query, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateError(err)
	}

	return card, nil
}

// GetByLinkedPayment retrieves the card funded by the payment.
// Returns nil if no card links to it.
func (r *ECardRepository) GetByLinkedPayment(ctx context.Context, paymentID string) (*domain.ECard, error) {
	query := `SELECT ` + ecardColumns + ` FROM ecards WHERE linked_payment_id = $1`

	card, err := scanECard(r.db.QueryRowContext(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, translateError(err)
	}

	return card, nil
}

// ListByDriver retrieves all cards of a driver, oldest first.
func (r *ECardRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.ECard, error) {
	query := `SELECT ` + ecardColumns + ` FROM ecards WHERE driver_id = $1 ORDER BY created_at ASC`

	return r.list(ctx, query, driverID)
}

// ListDueForExpiry retrieves up to limit active cards whose expiry is at or before now.
func (r *ECardRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.ECard, error) {
	query := `SELECT ` + ecardColumns + `
		FROM ecards
		WHERE state = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`

	return r.list(ctx, query, domain.ECardStateActive, now, limit)
}

// Update stores card if its version still matches, then bumps the version.
func (r *ECardRepository) Update(ctx context.Context, card *domain.ECard, event *domain.Event) error {
	query := `
		UPDATE ecards
		SET state = $1, linked_payment_id = $2, suspend_reason = $3, revoke_reason = $4,
			issued_at = $5, activated_at = $6, suspended_at = $7, revoked_at = $8, expired_at = $9,
			expires_at = $10, version = version + 1
		WHERE id = $11 AND version = $12
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			card.State,
			nullString(card.LinkedPaymentID),
			nullString(card.SuspendReason),
			nullString(card.RevokeReason),
			nullTime(card.IssuedAt),
			nullTime(card.ActivatedAt),
			nullTime(card.SuspendedAt),
			nullTime(card.RevokedAt),
			nullTime(card.ExpiredAt),
			nullTime(card.ExpiresAt),
			card.ID,
			card.Version,
		)
		if err != nil {
			return err
		}
		if err := checkVersioned(ctx, tx, "ecards", card.ID, result); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		card.Version++
		return nil
	})
}

func (r *ECardRepository) list(ctx context.Context, query string, args ...any) ([]*domain.ECard, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var cards []*domain.ECard
	for rows.Next() {
		card, err := scanECard(rows)
		if err != nil {
			return nil, translateError(err)
		}
		cards = append(cards, card)
	}

	return cards, translateError(rows.Err())
}

func scanECard(row rowScanner) (*domain.ECard, error) {
	var card domain.ECard
	var linkedPaymentID, suspendReason, revokeReason sql.NullString
	var issuedAt, activatedAt, suspendedAt, revokedAt, expiredAt, expiresAt sql.NullTime

	if err := row.Scan(
		&card.ID,
		&card.DriverID,
		&card.State,
		&linkedPaymentID,
		&suspendReason,
		&revokeReason,
		&card.CreatedAt,
		&issuedAt,
		&activatedAt,
		&suspendedAt,
		&revokedAt,
		&expiredAt,
		&expiresAt,
		&card.Version,
	); err != nil {
		return nil, err
	}

	card.LinkedPaymentID = linkedPaymentID.String
	card.SuspendReason = suspendReason.String
	card.RevokeReason = revokeReason.String
	card.IssuedAt = issuedAt.Time
	card.ActivatedAt = activatedAt.Time
	card.SuspendedAt = suspendedAt.Time
	card.RevokedAt = revokedAt.Time
	card.ExpiredAt = expiredAt.Time
	card.ExpiresAt = expiresAt.Time

	return &card, nil
}

// Ensure ECardRepository implements repository.ECardRepository.
var _ repository.ECardRepository = (*ECardRepository)(nil)
