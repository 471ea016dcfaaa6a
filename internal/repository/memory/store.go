// Package memory provides in-process implementations of the ledger store and
// locker. They back the service tests and the STORE_DRIVER=memory dev mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// Store holds every ledger table behind one mutex so that an entity and its
// event are always committed together.
type Store struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	ecards   map[string]*domain.ECard
	attempts []*domain.CrossingAttempt
	events   []*domain.Event
	err      error
}

// NewStore creates an empty in-memory ledger.
func NewStore() *Store {
	return &Store{
		payments: make(map[string]*domain.Payment),
		ecards:   make(map[string]*domain.ECard),
	}
}

// FailWith makes every subsequent call return err until cleared with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Payments returns the payment table.
func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s: s} }

// ECards returns the E-Card table.
func (s *Store) ECards() *ECardRepository { return &ECardRepository{s: s} }

// Crossings returns the crossing attempt table.
func (s *Store) Crossings() *CrossingRepository { return &CrossingRepository{s: s} }

// Events returns the audit log.
func (s *Store) Events() *EventRepository { return &EventRepository{s: s} }

// check must be called with s.mu held.
func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrTimeout, err)
	}
	return s.err
}

func (s *Store) appendEvent(event *domain.Event) {
	if event == nil {
		return
	}
	s.events = append(s.events, copyEvent(event))
}

// PaymentRepository is an in-memory implementation of repository.PaymentRepository.
type PaymentRepository struct {
	s *Store
}

// Create persists a new payment together with its creation event.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	if _, ok := r.s.payments[payment.ID]; ok {
		return fmt.Errorf("%w: payment %s", repository.ErrAlreadyExists, payment.ID)
	}

	payment.Version = 1
	stored := *payment
	r.s.payments[payment.ID] = &stored
	r.s.appendEvent(event)
	return nil
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	payment, ok := r.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *payment
	return &out, nil
}

// ListByDriver retrieves all payments of a driver, oldest first.
func (r *PaymentRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Payment, error) {
	return r.filter(ctx, 0, func(p *domain.Payment) bool { return p.DriverID == driverID })
}

// ListByState retrieves up to limit payments in state created within [from, to), oldest first.
func (r *PaymentRepository) ListByState(ctx context.Context, state domain.PaymentState, from, to time.Time, limit int) ([]*domain.Payment, error) {
	return r.filter(ctx, limit, func(p *domain.Payment) bool {
		return p.State == state && !p.CreatedAt.Before(from) && p.CreatedAt.Before(to)
	})
}

// Update stores payment if its version still matches, then bumps the version.
func (r *PaymentRepository) Update(ctx context.Context, payment *domain.Payment, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	current, ok := r.s.payments[payment.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != payment.Version {
		return repository.ErrVersionConflict
	}

	payment.Version++
	stored := *payment
	r.s.payments[payment.ID] = &stored
	r.s.appendEvent(event)
	return nil
}

func (r *PaymentRepository) filter(ctx context.Context, limit int, match func(*domain.Payment) bool) ([]*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}

	var payments []*domain.Payment
	for _, p := range r.s.payments {
		if match(p) {
			out := *p
			payments = append(payments, &out)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

// ECardRepository is an in-memory implementation of repository.ECardRepository.
type ECardRepository struct {
	s *Store
}

// Create persists a new card, rejecting a second current card for the driver.
func (r *ECardRepository) Create(ctx context.Context, card *domain.ECard, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	if _, ok := r.s.ecards[card.ID]; ok {
		return fmt.Errorf("%w: ecard %s", repository.ErrAlreadyExists, card.ID)
	}
	if card.State.Current() && r.currentLocked(card.DriverID, "") != nil {
		return fmt.Errorf("%w: driver %s already holds a current ecard", repository.ErrAlreadyExists, card.DriverID)
	}

	card.Version = 1
	stored := *card
	r.s.ecards[card.ID] = &stored
	r.s.appendEvent(event)
	return nil
}

// GetByID retrieves a card by ID.
func (r *ECardRepository) GetByID(ctx context.Context, id string) (*domain.ECard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	card, ok := r.s.ecards[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *card
	return &out, nil
}

// GetCurrentByDriver retrieves the driver's current card, or nil.
func (r *ECardRepository) GetCurrentByDriver(ctx context.Context, driverID string) (*domain.ECard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	card := r.currentLocked(driverID, "")
	if card == nil {
		return nil, nil
	}
	out := *card
	return &out, nil
}

// GetByLinkedPayment retrieves the card funded by the payment, or nil.
func (r *ECardRepository) GetByLinkedPayment(ctx context.Context, paymentID string) (*domain.ECard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	for _, card := range r.s.ecards {
		if card.LinkedPaymentID == paymentID {
			out := *card
			return &out, nil
		}
	}
	return nil, nil
}

// ListByDriver retrieves all cards of a driver, oldest first.
func (r *ECardRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.ECard, error) {
	return r.filter(ctx, 0, func(c *domain.ECard) bool { return c.DriverID == driverID }, byCreatedAt)
}

// ListDueForExpiry retrieves up to limit active cards whose expiry is at or before now.
func (r *ECardRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.ECard, error) {
	return r.filter(ctx, limit, func(c *domain.ECard) bool {
		return c.State == domain.ECardStateActive && c.Expired(now)
	}, byExpiresAt)
}

// Update stores card if its version still matches, then bumps the version.
func (r *ECardRepository) Update(ctx context.Context, card *domain.ECard, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	current, ok := r.s.ecards[card.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != card.Version {
		return repository.ErrVersionConflict
	}
	if card.State.Current() && r.currentLocked(card.DriverID, card.ID) != nil {
		return fmt.Errorf("%w: driver %s already holds a current ecard", repository.ErrAlreadyExists, card.DriverID)
	}

	card.Version++
	stored := *card
	r.s.ecards[card.ID] = &stored
	r.s.appendEvent(event)
	return nil
}

// currentLocked must be called with the store mutex held.
func (r *ECardRepository) currentLocked(driverID, exceptID string) *domain.ECard {
	for id, card := range r.s.ecards {
		if id != exceptID && card.DriverID == driverID && card.State.Current() {
			return card
		}
	}
	return nil
}

func byCreatedAt(a, b *domain.ECard) bool { return a.CreatedAt.Before(b.CreatedAt) }
func byExpiresAt(a, b *domain.ECard) bool { return a.ExpiresAt.Before(b.ExpiresAt) }

func (r *ECardRepository) filter(ctx context.Context, limit int, match func(*domain.ECard) bool, less func(a, b *domain.ECard) bool) ([]*domain.ECard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}

	var cards []*domain.ECard
	for _, c := range r.s.ecards {
		if match(c) {
			out := *c
			cards = append(cards, &out)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return less(cards[i], cards[j]) })
	if limit > 0 && len(cards) > limit {
		cards = cards[:limit]
	}
	return cards, nil
}

// CrossingRepository is an in-memory implementation of repository.CrossingRepository.
type CrossingRepository struct {
	s *Store
}

// Create appends a crossing attempt together with its audit event.
func (r *CrossingRepository) Create(ctx context.Context, attempt *domain.CrossingAttempt, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	stored := *attempt
	r.s.attempts = append(r.s.attempts, &stored)
	r.s.appendEvent(event)
	return nil
}

// ListByECard retrieves the attempts recorded against a card, oldest first.
func (r *CrossingRepository) ListByECard(ctx context.Context, eCardID string) ([]*domain.CrossingAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var attempts []*domain.CrossingAttempt
	for _, a := range r.s.attempts {
		if a.ECardID == eCardID {
			out := *a
			attempts = append(attempts, &out)
		}
	}
	return attempts, nil
}

// EventRepository is an in-memory implementation of repository.EventRepository.
type EventRepository struct {
	s *Store
}

// Append adds an event to the entity's log.
func (r *EventRepository) Append(ctx context.Context, event *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.check(ctx); err != nil {
		return err
	}
	r.s.appendEvent(event)
	return nil
}

// ListByEntity retrieves an entity's events in the order they were written.
func (r *EventRepository) ListByEntity(ctx context.Context, entityID string) ([]*domain.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	var events []*domain.Event
	for _, e := range r.s.events {
		if e.EntityID == entityID {
			events = append(events, copyEvent(e))
		}
	}
	return events, nil
}

func copyEvent(e *domain.Event) *domain.Event {
	out := *e
	if e.Data != nil {
		out.Data = make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return &out
}

// Ensure the in-memory tables implement the repository interfaces.
var (
	_ repository.PaymentRepository  = (*PaymentRepository)(nil)
	_ repository.ECardRepository    = (*ECardRepository)(nil)
	_ repository.CrossingRepository = (*CrossingRepository)(nil)
	_ repository.EventRepository    = (*EventRepository)(nil)
)
