package repository

import (
	"context"
	"time"

	"ecard/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
// Every write stores the entity and its audit event atomically.
type PaymentRepository interface {
	// Create persists a new payment together with its creation event.
	Create(ctx context.Context, payment *domain.Payment, event *domain.Event) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// ListByDriver retrieves all payments of a driver, oldest first.
	ListByDriver(ctx context.Context, driverID string) ([]*domain.Payment, error)

	// ListByState retrieves up to limit payments in state created within [from, to), oldest first.
	ListByState(ctx context.Context, state domain.PaymentState, from, to time.Time, limit int) ([]*domain.Payment, error)

	// Update stores payment if its version still matches, then bumps the version.
	Update(ctx context.Context, payment *domain.Payment, event *domain.Event) error
}
