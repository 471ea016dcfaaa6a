package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ecard/internal/domain"
	"ecard/internal/repository"
	"ecard/internal/repository/memory"
)

const testFee domain.Money = 50000

func testConfig() Config {
	return Config{
		Fee:              testFee,
		Methods:          []domain.PaymentMethod{domain.PaymentMethodMobileMoney, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard},
		Validity:         365 * 24 * time.Hour,
		OperationTimeout: 2 * time.Second,
		MaxRetries:       3,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubGateway struct {
	mu        sync.Mutex
	err       error
	submitted []string
}

func (g *stubGateway) Submit(ctx context.Context, payment *domain.Payment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.submitted = append(g.submitted, payment.ID)
	return nil
}

func (g *stubGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Handle(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count(eventType domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type mapCache struct {
	mu    sync.Mutex
	cards map[string]domain.ECard
	hits  int
}

func newMapCache() *mapCache {
	return &mapCache{cards: make(map[string]domain.ECard)}
}

func (c *mapCache) GetECard(ctx context.Context, id string) (*domain.ECard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.cards[id]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &card, nil
}

func (c *mapCache) SetECard(ctx context.Context, card *domain.ECard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards[card.ID] = *card
	return nil
}

func (c *mapCache) InvalidateECard(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cards, id)
	return nil
}

type fixture struct {
	store      *memory.Store
	locker     *memory.Locker
	clock      *fakeClock
	gateway    *stubGateway
	sink       *recordingSink
	cache      *mapCache
	payments   *PaymentService
	cards      *ECardService
	verifier   *VerificationService
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	locker := memory.NewLocker()
	clock := newFakeClock()
	gateway := &stubGateway{}
	sink := &recordingSink{}
	cache := newMapCache()
	cfg := testConfig()
	logger := discardLogger()
	notifier := NewNotifier(logger, sink)

	cards := NewECardService(store.ECards(), store.Payments(), store.Events(), locker, cache, notifier, cfg, logger)
	cards.now = clock.Now
	payments := NewPaymentService(store.Payments(), store.Events(), locker, gateway, cards, notifier, cfg, logger)
	payments.now = clock.Now
	verifier := NewVerificationService(cards, store.Crossings(), cache, notifier, cfg, logger)
	verifier.now = clock.Now
	reconciler := NewReconciler(store.Payments(), store.ECards(), payments, cards, ReconcileConfig{
		Window:         7 * 24 * time.Hour,
		InitiatedGrace: 10 * time.Minute,
	}, logger)
	reconciler.now = clock.Now

	return &fixture{
		store:      store,
		locker:     locker,
		clock:      clock,
		gateway:    gateway,
		sink:       sink,
		cache:      cache,
		payments:   payments,
		cards:      cards,
		verifier:   verifier,
		reconciler: reconciler,
	}
}

// paidPending initiates a fee payment for the driver, leaving it pending.
func (f *fixture) paidPending(t *testing.T, driverID string) *domain.Payment {
	t.Helper()
	payment, err := f.payments.Initiate(context.Background(), driverID, testFee, domain.PaymentMethodMobileMoney)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatePending, payment.State)
	return payment
}

// activeCard walks a new driver to an active card funded by a confirmed payment.
func (f *fixture) activeCard(t *testing.T, driverID string) (*domain.ECard, *domain.Payment) {
	t.Helper()
	ctx := context.Background()

	_, err := f.cards.MarkEligible(ctx, driverID)
	require.NoError(t, err)
	payment := f.paidPending(t, driverID)
	payment, err = f.payments.Confirm(ctx, payment.ID, "gw-"+payment.ID)
	require.NoError(t, err)

	card, err := f.store.ECards().GetByLinkedPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, card)
	card, err = f.cards.Activate(ctx, card.ID)
	require.NoError(t, err)
	return card, payment
}

func (f *fixture) card(t *testing.T, id string) *domain.ECard {
	t.Helper()
	card, err := f.store.ECards().GetByID(context.Background(), id)
	require.NoError(t, err)
	return card
}

func (f *fixture) payment(t *testing.T, id string) *domain.Payment {
	t.Helper()
	payment, err := f.store.Payments().GetByID(context.Background(), id)
	require.NoError(t, err)
	return payment
}

// conflictingPayments loses every version check.
type conflictingPayments struct {
	repository.PaymentRepository
	mu      sync.Mutex
	updates int
}

func (r *conflictingPayments) Update(ctx context.Context, payment *domain.Payment, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return repository.ErrVersionConflict
}

// refundOnRead runs refund once, right after the first successful read.
type refundOnRead struct {
	repository.PaymentRepository
	once   sync.Once
	refund func()
}

func (r *refundOnRead) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := r.PaymentRepository.GetByID(ctx, id)
	if err == nil {
		r.once.Do(r.refund)
	}
	return payment, err
}

// gateSink blocks on its first event until release is closed.
type gateSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gateSink) Name() string { return "gate" }

func (s *gateSink) Handle(ctx context.Context, event *domain.Event) error {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return nil
	}
	close(s.entered)
	<-s.release
	return nil
}
