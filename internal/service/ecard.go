package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// RefundRevokeReason is recorded on cards revoked because their payment was refunded.
const RefundRevokeReason = "payment refunded"

// ECardCache serves snapshots of terminal cards.
type ECardCache interface {
	GetECard(ctx context.Context, id string) (*domain.ECard, error)
	SetECard(ctx context.Context, card *domain.ECard) error
	InvalidateECard(ctx context.Context, id string) error
}

// ECardService owns the E-Card state machine.
type ECardService struct {
	ecards   repository.ECardRepository
	payments repository.PaymentRepository
	events   repository.EventRepository
	locker   repository.Locker
	cache    ECardCache
	notifier *Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewECardService creates a new ECardService. cache may be nil.
func NewECardService(
	ecards repository.ECardRepository,
	payments repository.PaymentRepository,
	events repository.EventRepository,
	locker repository.Locker,
	cache ECardCache,
	notifier *Notifier,
	cfg Config,
	logger *slog.Logger,
) *ECardService {
	return &ECardService{
		ecards:   ecards,
		payments: payments,
		events:   events,
		locker:   locker,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// MarkEligible records that the driver may pay for a card. It returns the
// driver's current card if there is one, so retries never create duplicates.
// A confirmed payment that arrived before eligibility is linked right away.
func (s *ECardService) MarkEligible(ctx context.Context, driverID string) (*domain.ECard, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, ErrInvalidDriverID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	card, created, err := s.ensureCard(ctx, driverID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, created)

	if card.State != domain.ECardStateEligible {
		return card, nil
	}
	return s.settleEarlyPayment(ctx, card)
}

// ensureCard returns the driver's current card, creating an eligible one if
// there is none. created is the creation event, or nil.
func (s *ECardService) ensureCard(ctx context.Context, driverID string) (*domain.ECard, *domain.Event, error) {
	unlock, err := s.locker.Lock(ctx, repository.DriverLockKey(driverID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	card, err := s.ecards.GetCurrentByDriver(ctx, driverID)
	if err != nil || card != nil {
		return card, nil, err
	}

	now := s.now()
	card = &domain.ECard{
		ID:        uuid.New().String(),
		DriverID:  driverID,
		State:     domain.ECardStateEligible,
		CreatedAt: now,
	}
	event := ecardEvent(card, domain.EventECardEligible, domain.ECardStateNotEligible, now)

	err = s.ecards.Create(ctx, card, event)
	switch {
	case errors.Is(err, repository.ErrAlreadyExists):
		// Another instance won the race without holding our lock.
		if card, err = s.ecards.GetCurrentByDriver(ctx, driverID); err != nil {
			return nil, nil, err
		}
		if card == nil {
			return nil, nil, fmt.Errorf("%w: driver %s", ErrConflict, driverID)
		}
		return card, nil, nil
	case err != nil:
		return nil, nil, err
	}
	return card, event, nil
}

// settleEarlyPayment links the driver's oldest confirmed, unlinked payment to
// the driver's eligible card.
func (s *ECardService) settleEarlyPayment(ctx context.Context, eligible *domain.ECard) (*domain.ECard, error) {
	unlock, err := s.locker.Lock(ctx, repository.DriverLockKey(eligible.DriverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	card, err := s.ecards.GetCurrentByDriver(ctx, eligible.DriverID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		// Revoked in the meantime.
		return s.ecards.GetByID(ctx, eligible.ID)
	}
	if card.State != domain.ECardStateEligible {
		return card, nil
	}

	payments, err := s.payments.ListByDriver(ctx, card.DriverID)
	if err != nil {
		return nil, err
	}

	for _, p := range payments {
		if p.State != domain.PaymentStateConfirmed {
			continue
		}
		linked, err := s.ecards.GetByLinkedPayment(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if linked != nil {
			continue
		}

		s.logger.InfoContext(ctx, "linking payment confirmed before eligibility",
			"driver_id", card.DriverID, "payment_id", p.ID, "ecard_id", card.ID)
		issued, err := s.linkPayment(ctx, card.DriverID, p)
		if err != nil {
			return nil, err
		}
		if issued != nil {
			return issued, nil
		}
	}
	return card, nil
}

// HandlePaymentEvent applies a payment outcome to the driver's card.
func (s *ECardService) HandlePaymentEvent(ctx context.Context, event domain.LifecycleEvent) error {
	switch e := event.(type) {
	case domain.PaymentConfirmed:
		_, err := s.OnPaymentConfirmed(ctx, e.DriverID, e.PaymentID)
		return err
	case domain.PaymentRefunded:
		_, err := s.OnPaymentRefunded(ctx, e.DriverID, e.PaymentID)
		return err
	default:
		return fmt.Errorf("%w: unsupported lifecycle event %T", ErrInvalidArgument, event)
	}
}

// OnPaymentConfirmed issues the driver's eligible card against the payment.
// It returns nil with no error when the driver is not eligible yet.
func (s *ECardService) OnPaymentConfirmed(ctx context.Context, driverID, paymentID string) (*domain.ECard, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, repository.DriverLockKey(driverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.DriverID != driverID {
		return nil, fmt.Errorf("%w: payment %s does not belong to driver %s", ErrInvalidArgument, paymentID, driverID)
	}

	return s.linkPayment(ctx, driverID, payment)
}

// linkPayment issues the driver's eligible card against a confirmed payment.
// The caller holds the driver lock.
func (s *ECardService) linkPayment(ctx context.Context, driverID string, payment *domain.Payment) (*domain.ECard, error) {
	if payment.State != domain.PaymentStateConfirmed {
		return nil, fmt.Errorf("%w: payment %s is %s, not confirmed", ErrInvalidTransition, payment.ID, payment.State)
	}

	linked, err := s.ecards.GetByLinkedPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if linked != nil {
		return linked, nil
	}

	card, err := s.ecards.GetCurrentByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		s.logger.WarnContext(ctx, "payment confirmed before driver is eligible; waiting for eligibility",
			"driver_id", driverID, "payment_id", payment.ID)
		return nil, nil
	}
	if card.State != domain.ECardStateEligible {
		s.logger.InfoContext(ctx, "driver already holds a funded card; payment left unlinked",
			"driver_id", driverID, "payment_id", payment.ID, "ecard_id", card.ID, "ecard_state", card.State)
		return card, nil
	}

	return s.mutate(ctx, card.ID, func(c *domain.ECard, now time.Time) (*domain.Event, error) {
		if c.State != domain.ECardStateEligible {
			return nil, nil
		}
		// The payment may have been refunded since it was read.
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		if current.State != domain.PaymentStateConfirmed {
			s.logger.WarnContext(ctx, "payment no longer confirmed; card left eligible",
				"driver_id", driverID, "payment_id", payment.ID, "payment_state", current.State)
			return nil, nil
		}
		c.State = domain.ECardStateIssued
		c.LinkedPaymentID = payment.ID
		c.IssuedAt = now
		c.ExpiresAt = now.Add(s.cfg.Validity)

		ev := ecardEvent(c, domain.EventECardIssued, domain.ECardStateEligible, now)
		ev.Data = map[string]string{
			"payment_id": payment.ID,
			"expires_at": c.ExpiresAt.UTC().Format(time.RFC3339),
		}
		return ev, nil
	})
}

// OnPaymentRefunded revokes the card funded by a refunded payment.
// It returns nil with no error when no card links to the payment. It holds
// the driver lock so an issuance racing the refund is either seen here or
// refused by linkPayment.
func (s *ECardService) OnPaymentRefunded(ctx context.Context, driverID, paymentID string) (*domain.ECard, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && payment.DriverID != driverID {
		return nil, fmt.Errorf("%w: payment %s does not belong to driver %s", ErrInvalidArgument, paymentID, driverID)
	}

	unlock, err := s.locker.Lock(ctx, repository.DriverLockKey(payment.DriverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	card, err := s.ecards.GetByLinkedPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, nil
	}

	return s.mutate(ctx, card.ID, func(c *domain.ECard, now time.Time) (*domain.Event, error) {
		if c.State.Terminal() {
			return nil, nil
		}
		return revoke(c, RefundRevokeReason, now), nil
	})
}

// Activate moves an issued card to active.
func (s *ECardService) Activate(ctx context.Context, eCardID string) (*domain.ECard, error) {
	return s.transition(ctx, eCardID, domain.ECardStateActive, func(c *domain.ECard, now time.Time) *domain.Event {
		c.State = domain.ECardStateActive
		c.ActivatedAt = now
		return ecardEvent(c, domain.EventECardActivated, domain.ECardStateIssued, now)
	}, domain.ECardStateIssued)
}

// Suspend moves an active card to suspended. reason is required.
func (s *ECardService) Suspend(ctx context.Context, eCardID, reason string) (*domain.ECard, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	return s.transition(ctx, eCardID, domain.ECardStateSuspended, func(c *domain.ECard, now time.Time) *domain.Event {
		c.State = domain.ECardStateSuspended
		c.SuspendReason = reason
		c.SuspendedAt = now
		ev := ecardEvent(c, domain.EventECardSuspended, domain.ECardStateActive, now)
		ev.Data = map[string]string{"reason": reason}
		return ev
	})
}

// Reinstate moves a suspended card back to active.
func (s *ECardService) Reinstate(ctx context.Context, eCardID string) (*domain.ECard, error) {
	return s.transition(ctx, eCardID, domain.ECardStateActive, func(c *domain.ECard, now time.Time) *domain.Event {
		c.State = domain.ECardStateActive
		c.SuspendReason = ""
		return ecardEvent(c, domain.EventECardReinstated, domain.ECardStateSuspended, now)
	}, domain.ECardStateSuspended)
}

// Revoke moves any non-terminal card to revoked. reason is required.
func (s *ECardService) Revoke(ctx context.Context, eCardID, reason string) (*domain.ECard, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	return s.transition(ctx, eCardID, domain.ECardStateRevoked, func(c *domain.ECard, now time.Time) *domain.Event {
		return revoke(c, reason, now)
	})
}

// Expire moves an active card to expired once its validity has run out.
func (s *ECardService) Expire(ctx context.Context, eCardID string) (*domain.ECard, error) {
	if eCardID == "" {
		return nil, ErrInvalidECardID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	return s.mutate(ctx, eCardID, func(c *domain.ECard, now time.Time) (*domain.Event, error) {
		if c.State != domain.ECardStateActive {
			return nil, invalidTransition("ecard", c.ID, c.State, domain.ECardStateExpired)
		}
		if !c.Expired(now) {
			return nil, fmt.Errorf("%w: ecard %s is valid until %s", ErrInvalidTransition, c.ID, c.ExpiresAt.UTC().Format(time.RFC3339))
		}
		return expire(c, now), nil
	})
}

// Get retrieves a card by ID.
func (s *ECardService) Get(ctx context.Context, eCardID string) (*domain.ECard, error) {
	if eCardID == "" {
		return nil, ErrInvalidECardID
	}
	return s.ecards.GetByID(ctx, eCardID)
}

// ListByDriver retrieves all cards of a driver, including terminal ones.
func (s *ECardService) ListByDriver(ctx context.Context, driverID string) ([]*domain.ECard, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.ecards.ListByDriver(ctx, driverID)
}

// Events retrieves the audit trail of a card.
func (s *ECardService) Events(ctx context.Context, eCardID string) ([]*domain.Event, error) {
	if _, err := s.Get(ctx, eCardID); err != nil {
		return nil, err
	}
	return s.events.ListByEntity(ctx, eCardID)
}

// scan is the state change a border scan implies: an issued card activates
// and an overdue active card expires. It returns the card as it now stands.
func (s *ECardService) scan(ctx context.Context, eCardID string) (*domain.ECard, error) {
	card, events, err := s.applyScan(ctx, eCardID)
	// An activation may already be committed when the expiry write fails.
	s.notifier.Publish(ctx, events...)
	if err != nil {
		return nil, err
	}

	s.cacheIfTerminal(ctx, card)
	return card, nil
}

// applyScan writes the scan transitions under the card lock and returns the
// events committed so far, also on error.
func (s *ECardService) applyScan(ctx context.Context, eCardID string) (*domain.ECard, []*domain.Event, error) {
	unlock, err := s.locker.Lock(ctx, repository.ECardLockKey(eCardID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var card *domain.ECard
	var events []*domain.Event
	err = retryOnConflict(s.cfg.MaxRetries, func() error {
		c, err := s.ecards.GetByID(ctx, eCardID)
		if err != nil {
			return err
		}
		card = c
		now := s.now()

		if c.State == domain.ECardStateIssued {
			c.State = domain.ECardStateActive
			c.ActivatedAt = now
			ev := ecardEvent(c, domain.EventECardActivated, domain.ECardStateIssued, now)
			ev.Data = map[string]string{"trigger": "first_scan"}
			if err := s.ecards.Update(ctx, c, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		if c.State == domain.ECardStateActive && c.Expired(now) {
			ev := expire(c, now)
			if err := s.ecards.Update(ctx, c, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, events, err
	}
	return card, events, nil
}

// transition runs a manual transition to target. from, if given, narrows the
// source states the graph allows.
func (s *ECardService) transition(ctx context.Context, eCardID string, target domain.ECardState, fn func(c *domain.ECard, now time.Time) *domain.Event, from ...domain.ECardState) (*domain.ECard, error) {
	if eCardID == "" {
		return nil, ErrInvalidECardID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	return s.mutate(ctx, eCardID, func(c *domain.ECard, now time.Time) (*domain.Event, error) {
		if !c.State.CanTransition(target) || (len(from) > 0 && !containsState(from, c.State)) {
			return nil, invalidTransition("ecard", c.ID, c.State, target)
		}
		return fn(c, now), nil
	})
}

// mutate applies fn to the card under its lock and stores the result with the
// returned event. A nil event leaves the card unchanged. The event is published
// once the lock is released.
func (s *ECardService) mutate(ctx context.Context, eCardID string, fn func(c *domain.ECard, now time.Time) (*domain.Event, error)) (*domain.ECard, error) {
	card, event, err := s.commit(ctx, eCardID, fn)
	if err != nil {
		return nil, err
	}

	if event != nil {
		s.notifier.Publish(ctx, event)
		s.cacheIfTerminal(ctx, card)
	}
	return card, nil
}

func (s *ECardService) commit(ctx context.Context, eCardID string, fn func(c *domain.ECard, now time.Time) (*domain.Event, error)) (*domain.ECard, *domain.Event, error) {
	unlock, err := s.locker.Lock(ctx, repository.ECardLockKey(eCardID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var card *domain.ECard
	var event *domain.Event
	err = retryOnConflict(s.cfg.MaxRetries, func() error {
		c, err := s.ecards.GetByID(ctx, eCardID)
		if err != nil {
			return err
		}
		ev, err := fn(c, s.now())
		if err != nil {
			return err
		}
		card, event = c, ev
		if ev == nil {
			return nil
		}
		return s.ecards.Update(ctx, c, ev)
	})
	if err != nil {
		return nil, nil, err
	}
	return card, event, nil
}

func (s *ECardService) cacheIfTerminal(ctx context.Context, card *domain.ECard) {
	if s.cache == nil || card == nil || !card.State.Terminal() {
		return
	}
	if err := s.cache.SetECard(ctx, card); err != nil {
		s.logger.WarnContext(ctx, "caching terminal ecard failed", "ecard_id", card.ID, "error", err)
	}
}

func revoke(c *domain.ECard, reason string, now time.Time) *domain.Event {
	from := c.State
	c.State = domain.ECardStateRevoked
	c.RevokeReason = reason
	c.RevokedAt = now
	ev := ecardEvent(c, domain.EventECardRevoked, from, now)
	ev.Data = map[string]string{"reason": reason}
	return ev
}

func expire(c *domain.ECard, now time.Time) *domain.Event {
	c.State = domain.ECardStateExpired
	c.ExpiredAt = now
	return ecardEvent(c, domain.EventECardExpired, domain.ECardStateActive, now)
}

func containsState(states []domain.ECardState, s domain.ECardState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func ecardEvent(c *domain.ECard, eventType domain.EventType, from domain.ECardState, now time.Time) *domain.Event {
	return &domain.Event{
		ID:         uuid.New().String(),
		EntityID:   c.ID,
		EntityType: domain.EntityECard,
		DriverID:   c.DriverID,
		Type:       eventType,
		FromState:  string(from),
		ToState:    string(c.State),
		OccurredAt: now,
	}
}
