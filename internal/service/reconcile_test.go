package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecard/internal/domain"
	"ecard/internal/repository/memory"
)

// withoutCascade returns a payment service that commits payment transitions
// but never reaches the card machine, as if the process died in between.
func (f *fixture) withoutCascade() *PaymentService {
	svc := NewPaymentService(f.store.Payments(), f.store.Events(), memory.NewLocker(), f.gateway, nil, nil, testConfig(), discardLogger())
	svc.now = f.clock.Now
	return svc
}

func TestReconcile_IssuesCardForOrphanedConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	eligible, err := f.cards.MarkEligible(ctx, "driver-1")
	require.NoError(t, err)
	payment := f.paidPending(t, "driver-1")

	_, err = f.withoutCascade().Confirm(ctx, payment.ID, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ECardStateEligible, f.card(t, eligible.ID).State)

	f.clock.Advance(time.Minute)
	summary, err := f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Issued)
	assert.Zero(t, summary.Failed)

	card := f.card(t, eligible.ID)
	assert.Equal(t, domain.ECardStateIssued, card.State)
	assert.Equal(t, payment.ID, card.LinkedPaymentID)

	again, err := f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, again.Issued)
}

func TestReconcile_RevokesCardOfOrphanedRefund(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	card, payment := f.activeCard(t, "driver-1")

	_, err := f.withoutCascade().Refund(ctx, payment.ID, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, domain.ECardStateActive, f.card(t, card.ID).State)

	f.clock.Advance(time.Minute)
	summary, err := f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Revoked)
	assert.Equal(t, domain.ECardStateRevoked, f.card(t, card.ID).State)
}

func TestReconcile_ResubmitsStaleInitiatedPayments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.setErr(errors.New("down"))
	_, err := f.payments.Initiate(ctx, "driver-1", testFee, domain.PaymentMethodCard)
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	f.gateway.setErr(nil)

	f.clock.Advance(time.Minute)
	summary, err := f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, summary.Resubmitted, "still within grace")

	f.clock.Advance(15 * time.Minute)
	summary, err = f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resubmitted)

	payments, err := f.payments.ListByDriver(ctx, "driver-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatePending, payments[0].State)
}

func TestReconcile_CountsFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.setErr(errors.New("down"))
	_, err := f.payments.Initiate(ctx, "driver-1", testFee, domain.PaymentMethodCard)
	require.Error(t, err)

	f.clock.Advance(time.Hour)
	summary, err := f.reconciler.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, summary.Resubmitted)
	assert.Equal(t, 1, summary.Failed)
}

func TestExpireDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	due, _ := f.activeCard(t, "driver-1")
	f.clock.Advance(time.Hour)
	fresh, _ := f.activeCard(t, "driver-2")

	f.clock.Advance(testConfig().Validity - time.Minute)
	summary, err := f.reconciler.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, domain.ECardStateExpired, f.card(t, due.ID).State)
	assert.Equal(t, domain.ECardStateActive, f.card(t, fresh.ID).State)
}
