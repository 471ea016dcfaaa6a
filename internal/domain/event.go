package domain

import "time"

// EntityType identifies which ledger entity an event belongs to.
type EntityType string

const (
	EntityPayment  EntityType = "payment"
	EntityECard    EntityType = "ecard"
	EntityCrossing EntityType = "crossing"
)

// EventType names a state transition. Values double as message routing keys.
type EventType string

const (
	EventPaymentInitiated EventType = "payment.initiated"
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentRefunded  EventType = "payment.refunded"

	EventECardEligible    EventType = "ecard.eligible"
	EventECardIssued      EventType = "ecard.issued"
	EventECardActivated   EventType = "ecard.activated"
	EventECardSuspended   EventType = "ecard.suspended"
	EventECardReinstated  EventType = "ecard.reinstated"
	EventECardExpired     EventType = "ecard.expired"
	EventECardRevoked     EventType = "ecard.revoked"
	EventCrossingRecorded EventType = "crossing.recorded"
)

// Event is an audit record of a single committed transition.
type Event struct {
	ID         string
	EntityID   string
	EntityType EntityType
	DriverID   string
	Type       EventType
	FromState  string
	ToState    string
	Data       map[string]string
	OccurredAt time.Time
}

// LifecycleEvent is a payment outcome consumed by the E-Card state machine.
type LifecycleEvent interface {
	lifecycleEvent()
}

// PaymentConfirmed is raised once a payment first reaches confirmed.
type PaymentConfirmed struct {
	PaymentID string
	DriverID  string
}

// PaymentRefunded is raised when a confirmed payment is refunded.
type PaymentRefunded struct {
	PaymentID string
	DriverID  string
	Reason    string
}

func (PaymentConfirmed) lifecycleEvent() {}
func (PaymentRefunded) lifecycleEvent()  {}
