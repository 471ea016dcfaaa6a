package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// PaymentGateway hands a payment to the external payment gateway. The outcome
// arrives later through Confirm or Fail.
type PaymentGateway interface {
	Submit(ctx context.Context, payment *domain.Payment) error
}

// MockGateway is a PaymentGateway that accepts every submission.
type MockGateway struct {
	logger *slog.Logger
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway(logger *slog.Logger) *MockGateway {
	return &MockGateway{logger: logger}
}

// Submit accepts the payment. Confirmation is expected through the gateway webhook.
func (g *MockGateway) Submit(ctx context.Context, payment *domain.Payment) error {
	g.logger.InfoContext(ctx, "payment submitted to gateway",
		"payment_id", payment.ID, "method", payment.Method, "amount", payment.Amount)
	return nil
}

// LifecycleHandler consumes payment outcomes that affect E-Cards.
type LifecycleHandler interface {
	HandlePaymentEvent(ctx context.Context, event domain.LifecycleEvent) error
}

// PaymentService owns the payment state machine.
type PaymentService struct {
	payments  repository.PaymentRepository
	events    repository.EventRepository
	locker    repository.Locker
	gateway   PaymentGateway
	lifecycle LifecycleHandler
	notifier  *Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	payments repository.PaymentRepository,
	events repository.EventRepository,
	locker repository.Locker,
	gateway PaymentGateway,
	lifecycle LifecycleHandler,
	notifier *Notifier,
	cfg Config,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		payments:  payments,
		events:    events,
		locker:    locker,
		gateway:   gateway,
		lifecycle: lifecycle,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Initiate records a new payment and hands it to the gateway. If the gateway
// cannot take it the payment stays initiated for reconciliation to resubmit.
func (s *PaymentService) Initiate(ctx context.Context, driverID string, amount domain.Money, method domain.PaymentMethod) (*domain.Payment, error) {
	if strings.TrimSpace(driverID) == "" {
		return nil, ErrInvalidDriverID
	}
	if amount != s.cfg.Fee {
		return nil, fmt.Errorf("%w: got %d, fee is %d", ErrInvalidAmount, amount, s.cfg.Fee)
	}
	if !s.cfg.methodEnabled(method) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	now := s.now()
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		DriverID:  driverID,
		Amount:    amount,
		Method:    method,
		State:     domain.PaymentStateInitiated,
		CreatedAt: now,
	}
	event := paymentEvent(payment, domain.EventPaymentInitiated, "", now)
	event.Data = map[string]string{
		"amount": fmt.Sprintf("%d", amount),
		"method": string(method),
	}

	if err := s.payments.Create(ctx, payment, event); err != nil {
		return nil, err
	}
	s.notifier.Publish(ctx, event)

	return s.submit(ctx, payment)
}

// Resubmit hands a payment stuck in initiated to the gateway again.
func (s *PaymentService) Resubmit(ctx context.Context, paymentID string) (*domain.Payment, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.State != domain.PaymentStateInitiated {
		return payment, nil
	}
	return s.submit(ctx, payment)
}

func (s *PaymentService) submit(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	if err := s.gateway.Submit(ctx, payment); err != nil {
		s.logger.WarnContext(ctx, "gateway hand-off failed; payment left initiated",
			"payment_id", payment.ID, "driver_id", payment.DriverID, "error", err)
		return nil, fmt.Errorf("%w: payment %s: %v", ErrGatewayUnavailable, payment.ID, err)
	}

	pending, _, err := s.mutate(ctx, payment.ID, func(p *domain.Payment, now time.Time) (*domain.Event, error) {
		if p.State != domain.PaymentStateInitiated {
			return nil, nil
		}
		p.State = domain.PaymentStatePending
		return paymentEvent(p, domain.EventPaymentPending, domain.PaymentStateInitiated, now), nil
	})
	return pending, err
}

// Confirm moves a pending payment to confirmed. A repeat with the same
// gateway reference is a no-op; a different reference is a conflict.
func (s *PaymentService) Confirm(ctx context.Context, paymentID, gatewayReference string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	if strings.TrimSpace(gatewayReference) == "" {
		return nil, ErrMissingReference
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	payment, event, err := s.mutate(ctx, paymentID, func(p *domain.Payment, now time.Time) (*domain.Event, error) {
		switch p.State {
		case domain.PaymentStateConfirmed:
			if p.GatewayReference == gatewayReference {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: payment %s already confirmed with another reference", ErrConflictingConfirmation, p.ID)
		case domain.PaymentStatePending:
		default:
			return nil, invalidTransition("payment", p.ID, p.State, domain.PaymentStateConfirmed)
		}

		p.State = domain.PaymentStateConfirmed
		p.GatewayReference = gatewayReference
		p.ConfirmedAt = now
		ev := paymentEvent(p, domain.EventPaymentConfirmed, domain.PaymentStatePending, now)
		ev.Data = map[string]string{"gateway_reference": gatewayReference}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}

	if event != nil {
		s.cascade(ctx, domain.PaymentConfirmed{PaymentID: payment.ID, DriverID: payment.DriverID})
	}
	return payment, nil
}

// Fail moves a pending payment to failed. Failing a failed payment is a no-op.
func (s *PaymentService) Fail(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	payment, _, err := s.mutate(ctx, paymentID, func(p *domain.Payment, now time.Time) (*domain.Event, error) {
		switch p.State {
		case domain.PaymentStateFailed:
			return nil, nil
		case domain.PaymentStatePending:
		default:
			return nil, invalidTransition("payment", p.ID, p.State, domain.PaymentStateFailed)
		}

		p.State = domain.PaymentStateFailed
		p.FailureReason = reason
		p.FailedAt = now
		ev := paymentEvent(p, domain.EventPaymentFailed, domain.PaymentStatePending, now)
		ev.Data = map[string]string{"reason": reason}
		return ev, nil
	})
	return payment, err
}

// Refund moves a confirmed payment to refunded and revokes the card it funded.
func (s *PaymentService) Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	payment, _, err := s.mutate(ctx, paymentID, func(p *domain.Payment, now time.Time) (*domain.Event, error) {
		if p.State != domain.PaymentStateConfirmed {
			return nil, invalidTransition("payment", p.ID, p.State, domain.PaymentStateRefunded)
		}

		p.State = domain.PaymentStateRefunded
		p.RefundReason = reason
		p.RefundedAt = now
		ev := paymentEvent(p, domain.EventPaymentRefunded, domain.PaymentStateConfirmed, now)
		ev.Data = map[string]string{"reason": reason}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}

	s.cascade(ctx, domain.PaymentRefunded{PaymentID: payment.ID, DriverID: payment.DriverID, Reason: reason})
	return payment, nil
}

// Get retrieves a payment by ID.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	return s.payments.GetByID(ctx, paymentID)
}

// ListByDriver retrieves all payments of a driver.
func (s *PaymentService) ListByDriver(ctx context.Context, driverID string) ([]*domain.Payment, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.payments.ListByDriver(ctx, driverID)
}

// Events retrieves the audit trail of a payment.
func (s *PaymentService) Events(ctx context.Context, paymentID string) ([]*domain.Event, error) {
	if _, err := s.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.events.ListByEntity(ctx, paymentID)
}

// cascade hands a committed payment outcome to the E-Card machine. The payment
// transition stands even if this fails; reconciliation completes it later.
func (s *PaymentService) cascade(ctx context.Context, event domain.LifecycleEvent) {
	if s.lifecycle == nil {
		return
	}
	if err := s.lifecycle.HandlePaymentEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "ecard update after payment transition failed; left for reconciliation",
			"event", fmt.Sprintf("%T", event), "error", err)
	}
}

// mutate applies fn to the payment under its lock and stores the result with
// the returned event. A nil event leaves the payment unchanged. The event is
// published once the lock is released.
func (s *PaymentService) mutate(ctx context.Context, paymentID string, fn func(p *domain.Payment, now time.Time) (*domain.Event, error)) (*domain.Payment, *domain.Event, error) {
	payment, event, err := s.commit(ctx, paymentID, fn)
	if err != nil {
		return nil, nil, err
	}

	s.notifier.Publish(ctx, event)
	return payment, event, nil
}

func (s *PaymentService) commit(ctx context.Context, paymentID string, fn func(p *domain.Payment, now time.Time) (*domain.Event, error)) (*domain.Payment, *domain.Event, error) {
	unlock, err := s.locker.Lock(ctx, repository.PaymentLockKey(paymentID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var payment *domain.Payment
	var event *domain.Event
	err = retryOnConflict(s.cfg.MaxRetries, func() error {
		p, err := s.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		ev, err := fn(p, s.now())
		if err != nil {
			return err
		}
		payment, event = p, ev
		if ev == nil {
			return nil
		}
		return s.payments.Update(ctx, p, ev)
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, event, nil
}

func paymentEvent(p *domain.Payment, eventType domain.EventType, from domain.PaymentState, now time.Time) *domain.Event {
	return &domain.Event{
		ID:         uuid.New().String(),
		EntityID:   p.ID,
		EntityType: domain.EntityPayment,
		DriverID:   p.DriverID,
		Type:       eventType,
		FromState:  string(from),
		ToState:    string(p.State),
		OccurredAt: now,
	}
}
