package service

import (
	"context"
	"log/slog"
	"time"

	"ecard/internal/domain"
	"ecard/internal/metrics"
	"ecard/internal/repository"
)

// ReconcileConfig bounds a reconciliation pass.
type ReconcileConfig struct {
	// Window is how far back payments are re-examined.
	Window time.Duration
	// InitiatedGrace is how long an initiated payment may wait for the gateway before resubmission.
	InitiatedGrace time.Duration
}

// ReconcileSummary counts what a pass repaired.
type ReconcileSummary struct {
	Issued      int `json:"issued"`
	Revoked     int `json:"revoked"`
	Resubmitted int `json:"resubmitted"`
	Expired     int `json:"expired"`
	Failed      int `json:"failed"`
}

// Reconciler completes cross-entity transitions that a crash or a failed
// cascade left half done, and expires overdue cards.
type Reconciler struct {
	payments repository.PaymentRepository
	ecards   repository.ECardRepository
	paySvc   *PaymentService
	cardSvc  *ECardService
	cfg      ReconcileConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	payments repository.PaymentRepository,
	ecards repository.ECardRepository,
	paySvc *PaymentService,
	cardSvc *ECardService,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		payments: payments,
		ecards:   ecards,
		paySvc:   paySvc,
		cardSvc:  cardSvc,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile examines up to limit payments per state and repairs them:
// confirmed payments with an eligible card get it issued, refunded payments
// still backing a live card revoke it, and stale initiated payments are
// handed to the gateway again.
func (r *Reconciler) Reconcile(ctx context.Context, limit int) (*ReconcileSummary, error) {
	now := r.now()
	from := now.Add(-r.cfg.Window)
	summary := &ReconcileSummary{}

	confirmed, err := r.payments.ListByState(ctx, domain.PaymentStateConfirmed, from, now, limit)
	if err != nil {
		return nil, err
	}
	for _, p := range confirmed {
		linked, err := r.ecards.GetByLinkedPayment(ctx, p.ID)
		if err != nil {
			r.fail(ctx, summary, "check confirmed payment", p.ID, err)
			continue
		}
		if linked != nil {
			continue
		}
		card, err := r.cardSvc.OnPaymentConfirmed(ctx, p.DriverID, p.ID)
		if err != nil {
			r.fail(ctx, summary, "issue ecard", p.ID, err)
			continue
		}
		if card != nil && card.LinkedPaymentID == p.ID {
			summary.Issued++
		}
	}

	refunded, err := r.payments.ListByState(ctx, domain.PaymentStateRefunded, from, now, limit)
	if err != nil {
		return nil, err
	}
	for _, p := range refunded {
		linked, err := r.ecards.GetByLinkedPayment(ctx, p.ID)
		if err != nil {
			r.fail(ctx, summary, "check refunded payment", p.ID, err)
			continue
		}
		if linked == nil || linked.State.Terminal() {
			continue
		}
		if _, err := r.cardSvc.OnPaymentRefunded(ctx, p.DriverID, p.ID); err != nil {
			r.fail(ctx, summary, "revoke ecard", p.ID, err)
			continue
		}
		summary.Revoked++
	}

	stale, err := r.payments.ListByState(ctx, domain.PaymentStateInitiated, from, now.Add(-r.cfg.InitiatedGrace), limit)
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		if _, err := r.paySvc.Resubmit(ctx, p.ID); err != nil {
			r.fail(ctx, summary, "resubmit payment", p.ID, err)
			continue
		}
		summary.Resubmitted++
	}

	metrics.RecordReconciled("issued", summary.Issued)
	metrics.RecordReconciled("revoked", summary.Revoked)
	metrics.RecordReconciled("resubmitted", summary.Resubmitted)

	r.logger.InfoContext(ctx, "reconciliation finished",
		"issued", summary.Issued,
		"revoked", summary.Revoked,
		"resubmitted", summary.Resubmitted,
		"failed", summary.Failed,
	)
	return summary, nil
}

// ExpireDue expires up to limit active cards whose validity has run out.
func (r *Reconciler) ExpireDue(ctx context.Context, limit int) (*ReconcileSummary, error) {
	due, err := r.ecards.ListDueForExpiry(ctx, r.now(), limit)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, card := range due {
		if _, err := r.cardSvc.Expire(ctx, card.ID); err != nil {
			r.fail(ctx, summary, "expire ecard", card.ID, err)
			continue
		}
		summary.Expired++
	}

	metrics.RecordReconciled("expired", summary.Expired)
	if len(due) > 0 {
		r.logger.InfoContext(ctx, "expiry sweep finished", "expired", summary.Expired, "failed", summary.Failed)
	}
	return summary, nil
}

func (r *Reconciler) fail(ctx context.Context, summary *ReconcileSummary, step, id string, err error) {
	summary.Failed++
	r.logger.WarnContext(ctx, "reconciliation step failed", "step", step, "id", id, "error", err)
}
