package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecard/internal/domain"
	"ecard/internal/repository"
	"ecard/internal/repository/memory"
)

// ──────────────────────────────────────────────
// INITIATION
// ──────────────────────────────────────────────

func TestPayment_InitiateHandsOffToGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payment := f.paidPending(t, "driver-1")

	assert.Equal(t, testFee, payment.Amount)
	assert.Equal(t, domain.PaymentMethodMobileMoney, payment.Method)
	assert.Equal(t, []string{payment.ID}, f.gateway.submitted)

	events, err := f.payments.Events(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPaymentInitiated, events[0].Type)
	assert.Equal(t, "50000", events[0].Data["amount"])
	assert.Equal(t, domain.EventPaymentPending, events[1].Type)
}

func TestPayment_InitiateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		driverID string
		amount   domain.Money
		method   domain.PaymentMethod
		wantErr  error
	}{
		{"missing driver", " ", testFee, domain.PaymentMethodCard, ErrInvalidArgument},
		{"amount below fee", "driver-1", testFee - 1, domain.PaymentMethodCard, ErrInvalidAmount},
		{"zero amount", "driver-1", 0, domain.PaymentMethodCard, ErrInvalidAmount},
		{"unknown method", "driver-1", testFee, domain.PaymentMethod("cash"), ErrInvalidMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.payments.Initiate(context.Background(), tt.driverID, tt.amount, tt.method)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.gateway.submitted)
		})
	}
}

func TestPayment_InitiateRejectsDisabledMethod(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.payments.cfg.Methods = []domain.PaymentMethod{domain.PaymentMethodMobileMoney}

	_, err := f.payments.Initiate(context.Background(), "driver-1", testFee, domain.PaymentMethodCard)
	assert.ErrorIs(t, err, ErrInvalidMethod)
	assert.Equal(t, KindInvalidMethod, KindOf(err))
}

func TestPayment_GatewayDownLeavesPaymentInitiated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.setErr(errors.New("connection refused"))
	ctx := context.Background()

	_, err := f.payments.Initiate(ctx, "driver-1", testFee, domain.PaymentMethodBankTransfer)
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.True(t, Retryable(err))

	payments, err := f.payments.ListByDriver(ctx, "driver-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStateInitiated, payments[0].State)

	f.gateway.setErr(nil)
	resubmitted, err := f.payments.Resubmit(ctx, payments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatePending, resubmitted.State)
}

// ──────────────────────────────────────────────
// CONFIRMATION
// ──────────────────────────────────────────────

func TestPayment_ConfirmPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payment := f.paidPending(t, "driver-1")

	confirmed, err := f.payments.Confirm(context.Background(), payment.ID, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateConfirmed, confirmed.State)
	assert.Equal(t, "gw-1", confirmed.GatewayReference)
	assert.Equal(t, f.clock.Now(), confirmed.ConfirmedAt)
	assert.Equal(t, 1, f.sink.count(domain.EventPaymentConfirmed))
}

func TestPayment_ConfirmInitiatedIsInvalidTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.setErr(errors.New("timeout"))
	ctx := context.Background()

	_, err := f.payments.Initiate(ctx, "driver-1", testFee, domain.PaymentMethodCard)
	require.Error(t, err)
	payments, err := f.payments.ListByDriver(ctx, "driver-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	_, err = f.payments.Confirm(ctx, payments[0].ID, "gw-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.PaymentStateInitiated, f.payment(t, payments[0].ID).State)
}

func TestPayment_DuplicateConfirmIsNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cards.MarkEligible(ctx, "driver-1")
	require.NoError(t, err)
	payment := f.paidPending(t, "driver-1")

	first, err := f.payments.Confirm(ctx, payment.ID, "gw-1")
	require.NoError(t, err)
	second, err := f.payments.Confirm(ctx, payment.ID, "gw-1")
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, f.sink.count(domain.EventPaymentConfirmed))
	assert.Equal(t, 1, f.sink.count(domain.EventECardIssued))
}

func TestPayment_ConfirmWithDifferentReferenceConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	payment := f.paidPending(t, "driver-1")

	_, err := f.payments.Confirm(ctx, payment.ID, "gw-1")
	require.NoError(t, err)

	_, err = f.payments.Confirm(ctx, payment.ID, "gw-2")
	assert.ErrorIs(t, err, ErrConflictingConfirmation)
	assert.Equal(t, KindConflictingConfirmation, KindOf(err))
	assert.Equal(t, "gw-1", f.payment(t, payment.ID).GatewayReference)
}

func TestPayment_ConfirmFailedIsInvalidTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	payment := f.paidPending(t, "driver-1")

	failed, err := f.payments.Fail(ctx, payment.ID, "insufficient funds")
	require.NoError(t, err)

	_, err = f.payments.Confirm(ctx, payment.ID, "gw-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	after := f.payment(t, payment.ID)
	assert.Equal(t, domain.PaymentStateFailed, after.State)
	assert.Equal(t, failed.Version, after.Version)
	assert.Empty(t, after.GatewayReference)
}

func TestPayment_ConfirmRequiresReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payment := f.paidPending(t, "driver-1")

	_, err := f.payments.Confirm(context.Background(), payment.ID, "  ")
	assert.ErrorIs(t, err, ErrMissingReference)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestPayment_ConfirmUnknownIsNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.payments.Confirm(context.Background(), "missing", "gw-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestPayment_ConcurrentConfirmsCommitOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cards.MarkEligible(ctx, "driver-1")
	require.NoError(t, err)
	payment := f.paidPending(t, "driver-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.payments.Confirm(ctx, payment.ID, "gw-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sink.count(domain.EventPaymentConfirmed))
	assert.Equal(t, 1, f.sink.count(domain.EventECardIssued))
}

// ──────────────────────────────────────────────
// FAILURE AND REFUND
// ──────────────────────────────────────────────

func TestPayment_FailIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	payment := f.paidPending(t, "driver-1")

	failed, err := f.payments.Fail(ctx, payment.ID, "declined")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateFailed, failed.State)
	assert.Equal(t, "declined", failed.FailureReason)

	again, err := f.payments.Fail(ctx, payment.ID, "declined")
	require.NoError(t, err)
	assert.Equal(t, failed.Version, again.Version)
	assert.Equal(t, 1, f.sink.count(domain.EventPaymentFailed))
}

func TestPayment_FailConfirmedIsInvalidTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	payment := f.paidPending(t, "driver-1")
	_, err := f.payments.Confirm(ctx, payment.ID, "gw-1")
	require.NoError(t, err)

	_, err = f.payments.Fail(ctx, payment.ID, "late decline")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPayment_RefundRequiresConfirmed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payment := f.paidPending(t, "driver-1")

	_, err := f.payments.Refund(context.Background(), payment.ID, "duplicate charge")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.PaymentStatePending, f.payment(t, payment.ID).State)
}

func TestPayment_RefundRevokesActiveCard(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	card, payment := f.activeCard(t, "driver-1")

	refunded, err := f.payments.Refund(ctx, payment.ID, "duplicate charge")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateRefunded, refunded.State)

	revoked := f.card(t, card.ID)
	assert.Equal(t, domain.ECardStateRevoked, revoked.State)
	assert.Equal(t, RefundRevokeReason, revoked.RevokeReason)
}

// ──────────────────────────────────────────────
// STORE FAILURES
// ──────────────────────────────────────────────

func TestPayment_ExhaustedRetriesReturnConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payment := f.paidPending(t, "driver-1")

	repo := &conflictingPayments{PaymentRepository: f.store.Payments()}
	svc := NewPaymentService(repo, f.store.Events(), memory.NewLocker(), f.gateway, nil, nil, testConfig(), discardLogger())

	_, err := svc.Confirm(context.Background(), payment.ID, "gw-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, testConfig().MaxRetries+1, repo.updates)
	assert.Equal(t, domain.PaymentStatePending, f.payment(t, payment.ID).State)
}

func TestPayment_StorageUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	payment := f.paidPending(t, "driver-1")
	f.store.FailWith(repository.ErrStorageUnavailable)

	_, err := f.payments.Confirm(context.Background(), payment.ID, "gw-1")
	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.True(t, Retryable(err))
}

// ──────────────────────────────────────────────
// TRANSITION GRAPH
// ──────────────────────────────────────────────

func TestPayment_RandomOperationsFollowGraph(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var ids []string
	for i := 0; i < 200; i++ {
		if len(ids) == 0 || rng.Intn(5) == 0 {
			f.gateway.setErr(nil)
			if rng.Intn(4) == 0 {
				f.gateway.setErr(errors.New("down"))
			}
			p, err := f.payments.Initiate(ctx, "driver-1", testFee, domain.PaymentMethodCard)
			if err == nil {
				ids = append(ids, p.ID)
			} else {
				all, listErr := f.payments.ListByDriver(ctx, "driver-1")
				require.NoError(t, listErr)
				ids = ids[:0]
				for _, p := range all {
					ids = append(ids, p.ID)
				}
			}
			continue
		}

		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0:
			_, _ = f.payments.Confirm(ctx, id, "gw-1")
		case 1:
			_, _ = f.payments.Confirm(ctx, id, "gw-2")
		case 2:
			_, _ = f.payments.Fail(ctx, id, "declined")
		case 3:
			_, _ = f.payments.Refund(ctx, id, "chargeback")
		case 4:
			f.gateway.setErr(nil)
			_, _ = f.payments.Resubmit(ctx, id)
		}
	}

	for _, id := range ids {
		events, err := f.payments.Events(ctx, id)
		require.NoError(t, err)
		require.NotEmpty(t, events)
		assert.Equal(t, domain.EventPaymentInitiated, events[0].Type)

		state := domain.PaymentState(events[0].ToState)
		for _, ev := range events[1:] {
			next := domain.PaymentState(ev.ToState)
			assert.Equal(t, string(state), ev.FromState)
			assert.Truef(t, state.CanTransition(next), "%s -> %s", state, next)
			state = next
		}
		assert.Equal(t, state, f.payment(t, id).State)
	}
}
