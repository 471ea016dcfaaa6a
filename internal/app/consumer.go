package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"ecard/internal/domain"
	"ecard/internal/rabbitmq"
	"ecard/internal/service"
)

// Routing keys published by the payment gateway and document review.
const (
	RoutingGatewayConfirmed = "gateway.payment.confirmed"
	RoutingGatewayFailed    = "gateway.payment.failed"
	RoutingDocumentsOK      = "documents.approved"
)

// PaymentOutcomes is the part of the payment machine driven by the gateway.
type PaymentOutcomes interface {
	Confirm(ctx context.Context, paymentID, gatewayReference string) (*domain.Payment, error)
	Fail(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
}

// EligibilityMarker is the part of the E-Card machine driven by document review.
type EligibilityMarker interface {
	MarkEligible(ctx context.Context, driverID string) (*domain.ECard, error)
}

type gatewayConfirmedMessage struct {
	PaymentID        string `json:"payment_id"`
	GatewayReference string `json:"gateway_reference"`
}

type gatewayFailedMessage struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

type documentsApprovedMessage struct {
	DriverID string `json:"driver_id"`
}

// CollaboratorHandlers turns inbound collaborator messages into engine calls.
type CollaboratorHandlers struct {
	payments PaymentOutcomes
	ecards   EligibilityMarker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCollaboratorHandlers creates the inbound message handlers.
func NewCollaboratorHandlers(payments PaymentOutcomes, ecards EligibilityMarker, timeout time.Duration, logger *slog.Logger) *CollaboratorHandlers {
	return &CollaboratorHandlers{
		payments: payments,
		ecards:   ecards,
		timeout:  timeout,
		logger:   logger,
	}
}

// Bindings maps each routing key to its handler.
func (h *CollaboratorHandlers) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		RoutingGatewayConfirmed: h.HandleGatewayConfirmed,
		RoutingGatewayFailed:    h.HandleGatewayFailed,
		RoutingDocumentsOK:      h.HandleDocumentsApproved,
	}
}

// HandleGatewayConfirmed confirms a payment.
func (h *CollaboratorHandlers) HandleGatewayConfirmed(body []byte) bool {
	var msg gatewayConfirmedMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.PaymentID == "" || strings.TrimSpace(msg.GatewayReference) == "" {
		h.logger.Warn("dropping malformed gateway confirmation", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	_, err := h.payments.Confirm(ctx, msg.PaymentID, msg.GatewayReference)
	return h.settle(err, "gateway confirmation", "payment_id", msg.PaymentID)
}

// HandleGatewayFailed fails a payment.
func (h *CollaboratorHandlers) HandleGatewayFailed(body []byte) bool {
	var msg gatewayFailedMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.PaymentID == "" {
		h.logger.Warn("dropping malformed gateway failure", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	_, err := h.payments.Fail(ctx, msg.PaymentID, msg.Reason)
	return h.settle(err, "gateway failure", "payment_id", msg.PaymentID)
}

// HandleDocumentsApproved marks a driver eligible for an E-Card.
func (h *CollaboratorHandlers) HandleDocumentsApproved(body []byte) bool {
	var msg documentsApprovedMessage
	if err := json.Unmarshal(body, &msg); err != nil || strings.TrimSpace(msg.DriverID) == "" {
		h.logger.Warn("dropping malformed documents approval", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	_, err := h.ecards.MarkEligible(ctx, msg.DriverID)
	return h.settle(err, "documents approval", "driver_id", msg.DriverID)
}

// settle reports whether the message should be acked. Only retryable failures
// are requeued; anything else would fail again on redelivery.
func (h *CollaboratorHandlers) settle(err error, what string, attrs ...any) bool {
	if err == nil {
		return true
	}
	attrs = append(attrs, "error", err, "kind", service.KindOf(err))
	if service.Retryable(err) {
		h.logger.Warn(what+" failed; requeueing", attrs...)
		return false
	}
	h.logger.Warn(what+" rejected; dropping", attrs...)
	return true
}
