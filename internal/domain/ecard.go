package domain

import "time"

// ECardState represents the lifecycle state of a driver's E-Card.
type ECardState string

const (
	ECardStateNotEligible ECardState = "not_eligible"
	ECardStateEligible    ECardState = "eligible"
	ECardStateIssued      ECardState = "issued"
	ECardStateActive      ECardState = "active"
	ECardStateSuspended   ECardState = "suspended"
	ECardStateExpired     ECardState = "expired"
	ECardStateRevoked     ECardState = "revoked"
)

var ecardTransitions = map[ECardState][]ECardState{
	ECardStateNotEligible: {ECardStateEligible},
	ECardStateEligible:    {ECardStateIssued, ECardStateRevoked},
	ECardStateIssued:      {ECardStateActive, ECardStateRevoked},
	ECardStateActive:      {ECardStateSuspended, ECardStateExpired, ECardStateRevoked},
	ECardStateSuspended:   {ECardStateActive, ECardStateRevoked},
}

// CanTransition reports whether the E-Card graph has an edge from s to next.
func (s ECardState) CanTransition(next ECardState) bool {
	for _, allowed := range ecardTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s ECardState) Terminal() bool {
	return s == ECardStateExpired || s == ECardStateRevoked
}

// Current reports whether a card in state s counts as the driver's current card.
// At most one card per driver may be current.
func (s ECardState) Current() bool {
	switch s {
	case ECardStateEligible, ECardStateIssued, ECardStateActive, ECardStateSuspended:
		return true
	}
	return false
}

// ECard represents a driver's digital border-crossing credential.
type ECard struct {
	ID              string
	DriverID        string
	State           ECardState
	LinkedPaymentID string
	SuspendReason   string
	RevokeReason    string
	CreatedAt       time.Time
	IssuedAt        time.Time
	ActivatedAt     time.Time
	SuspendedAt     time.Time
	RevokedAt       time.Time
	ExpiredAt       time.Time
	ExpiresAt       time.Time
	Version         int64
}

// Expired reports whether the card's validity window has passed at now.
func (c *ECard) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
