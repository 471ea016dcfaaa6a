package repository

import (
	"context"
	"time"

	"ecard/internal/domain"
)

// ECardRepository defines the persistence operations for E-Cards.
// Every write stores the entity and its audit event atomically.
type ECardRepository interface {
	// Create persists a new card. Returns ErrAlreadyExists if the driver
	// already holds a current card.
	Create(ctx context.Context, card *domain.ECard, event *domain.Event) error

	// GetByID retrieves a card by ID.
	GetByID(ctx context.Context, id string) (*domain.ECard, error)

	// GetCurrentByDriver retrieves the driver's current (non-terminal) card.
	// Returns nil if the driver has none.
	GetCurrentByDriver(ctx context.Context, driverID string) (*domain.ECard, error)

	// GetByLinkedPayment retrieves the card funded by the payment.
	// Returns nil if no card links to it.
	GetByLinkedPayment(ctx context.Context, paymentID string) (*domain.ECard, error)

	// ListByDriver retrieves all cards of a driver, including historical ones.
	ListByDriver(ctx context.Context, driverID string) ([]*domain.ECard, error)

	// ListDueForExpiry retrieves up to limit active cards whose expiry is at or before now.
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.ECard, error)

	// Update stores card if its version still matches, then bumps the version.
	Update(ctx context.Context, card *domain.ECard, event *domain.Event) error
}
