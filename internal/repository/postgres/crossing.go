package postgres

import (
	"context"
	"database/sql"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// CrossingRepository is a PostgreSQL implementation of repository.CrossingRepository.
type CrossingRepository struct {
	db *sql.DB
}

// NewCrossingRepository creates a new PostgreSQL crossing attempt repository.
func NewCrossingRepository(db *sql.DB) *CrossingRepository {
	return &CrossingRepository{db: db}
}

// Create appends a crossing attempt together with its audit event.
func (r *CrossingRepository) Create(ctx context.Context, attempt *domain.CrossingAttempt, event *domain.Event) error {
	query := `
		INSERT INTO crossing_attempts (id, ecard_id, agent_id, attempted_at, result, denial_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			attempt.ID,
			attempt.ECardID,
			attempt.AgentID,
			attempt.Timestamp,
			attempt.Result,
			nullString(string(attempt.DenialReason)),
		); err != nil {
			return err
		}
		return insertEvent(ctx, tx, event)
	})
}

// ListByECard retrieves the attempts recorded against a card, oldest first.
func (r *CrossingRepository) ListByECard(ctx context.Context, eCardID string) ([]*domain.CrossingAttempt, error) {
	query := `
		SELECT id, ecard_id, agent_id, attempted_at, result, denial_reason
		FROM crossing_attempts
		WHERE ecard_id = $1
		ORDER BY attempted_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, eCardID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var attempts []*domain.CrossingAttempt
	for rows.Next() {
		var attempt domain.CrossingAttempt
		var denialReason sql.NullString
		if err := rows.Scan(
			&attempt.ID,
			&attempt.ECardID,
			&attempt.AgentID,
			&attempt.Timestamp,
			&attempt.Result,
			&denialReason,
		); err != nil {
			return nil, translateError(err)
		}
		attempt.DenialReason = domain.DenialReason(denialReason.String)
		attempts = append(attempts, &attempt)
	}

	return attempts, translateError(rows.Err())
}

// Ensure CrossingRepository implements repository.CrossingRepository.
var _ repository.CrossingRepository = (*CrossingRepository)(nil)
