package repository

import (
	"context"

	"ecard/internal/domain"
)

// EventRepository exposes the append-only audit log.
type EventRepository interface {
	// Append adds an event to the entity's log.
	Append(ctx context.Context, event *domain.Event) error

	// ListByEntity retrieves an entity's events in the order they were written.
	ListByEntity(ctx context.Context, entityID string) ([]*domain.Event, error)
}
