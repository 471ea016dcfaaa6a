package handler

import (
	"time"

	"ecard/internal/domain"
	"ecard/internal/service"
)

// PaymentResponse is the HTTP representation of a payment.
type PaymentResponse struct {
	ID               string `json:"id"`
	DriverID         string `json:"driver_id"`
	Amount           int64  `json:"amount"`
	Method           string `json:"method"`
	State            string `json:"state"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	RefundReason     string `json:"refund_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	ConfirmedAt      string `json:"confirmed_at,omitempty"`
	FailedAt         string `json:"failed_at,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
	Version          int64  `json:"version"`
}

// ECardResponse is the HTTP representation of an E-Card.
type ECardResponse struct {
	ID              string `json:"id"`
	DriverID        string `json:"driver_id"`
	State           string `json:"state"`
	LinkedPaymentID string `json:"linked_payment_id,omitempty"`
	SuspendReason   string `json:"suspend_reason,omitempty"`
	RevokeReason    string `json:"revoke_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	IssuedAt        string `json:"issued_at,omitempty"`
	ActivatedAt     string `json:"activated_at,omitempty"`
	SuspendedAt     string `json:"suspended_at,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	ExpiredAt       string `json:"expired_at,omitempty"`
	RevokedAt       string `json:"revoked_at,omitempty"`
	Version         int64  `json:"version"`
}

// EventResponse is the HTTP representation of an audit event.
type EventResponse struct {
	ID         string            `json:"id"`
	EntityID   string            `json:"entity_id"`
	EntityType string            `json:"entity_type"`
	Type       string            `json:"type"`
	FromState  string            `json:"from_state,omitempty"`
	ToState    string            `json:"to_state"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt string            `json:"occurred_at"`
}

// VerificationResponse is the HTTP representation of a border scan outcome.
type VerificationResponse struct {
	ECardID   string `json:"ecard_id"`
	Valid     bool   `json:"valid"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	AttemptID string `json:"attempt_id"`
}

// CrossingResponse is the HTTP representation of a crossing attempt.
type CrossingResponse struct {
	ID           string `json:"id"`
	ECardID      string `json:"ecard_id"`
	AgentID      string `json:"agent_id"`
	Timestamp    string `json:"timestamp"`
	Result       string `json:"result"`
	DenialReason string `json:"denial_reason,omitempty"`
}

// ReasonRequest is the body of transitions that take a reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID,
		DriverID:         p.DriverID,
		Amount:           int64(p.Amount),
		Method:           string(p.Method),
		State:            string(p.State),
		GatewayReference: p.GatewayReference,
		FailureReason:    p.FailureReason,
		RefundReason:     p.RefundReason,
		CreatedAt:        formatTime(p.CreatedAt),
		ConfirmedAt:      formatTime(p.ConfirmedAt),
		FailedAt:         formatTime(p.FailedAt),
		RefundedAt:       formatTime(p.RefundedAt),
		Version:          p.Version,
	}
}

func toECardResponse(c *domain.ECard) ECardResponse {
	return ECardResponse{
		ID:              c.ID,
		DriverID:        c.DriverID,
		State:           string(c.State),
		LinkedPaymentID: c.LinkedPaymentID,
		SuspendReason:   c.SuspendReason,
		RevokeReason:    c.RevokeReason,
		CreatedAt:       formatTime(c.CreatedAt),
		IssuedAt:        formatTime(c.IssuedAt),
		ActivatedAt:     formatTime(c.ActivatedAt),
		SuspendedAt:     formatTime(c.SuspendedAt),
		ExpiresAt:       formatTime(c.ExpiresAt),
		ExpiredAt:       formatTime(c.ExpiredAt),
		RevokedAt:       formatTime(c.RevokedAt),
		Version:         c.Version,
	}
}

func toEventResponses(events []*domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:         e.ID,
			EntityID:   e.EntityID,
			EntityType: string(e.EntityType),
			Type:       string(e.Type),
			FromState:  e.FromState,
			ToState:    e.ToState,
			Data:       e.Data,
			OccurredAt: formatTime(e.OccurredAt),
		})
	}
	return out
}

func toVerificationResponse(r *service.VerificationResult) VerificationResponse {
	return VerificationResponse{
		ECardID:   r.ECardID,
		Valid:     r.Valid,
		State:     string(r.State),
		Reason:    string(r.Reason),
		AttemptID: r.AttemptID,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
