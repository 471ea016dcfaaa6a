package repository

import (
	"context"

	"ecard/internal/domain"
)

// CrossingRepository defines the persistence operations for crossing attempts.
// Attempts are append-only.
type CrossingRepository interface {
	// Create appends a crossing attempt together with its audit event.
	Create(ctx context.Context, attempt *domain.CrossingAttempt, event *domain.Event) error

	// ListByECard retrieves the attempts recorded against a card, oldest first.
	ListByECard(ctx context.Context, eCardID string) ([]*domain.CrossingAttempt, error)
}
