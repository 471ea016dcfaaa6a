package domain

import "time"

// PaymentState represents the current state of an E-Card fee payment.
type PaymentState string

const (
	PaymentStateInitiated PaymentState = "initiated"
	PaymentStatePending   PaymentState = "pending"
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateRefunded  PaymentState = "refunded"
)

// PaymentMethod represents how the driver pays the fee.
type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodBankTransfer, PaymentMethodCard:
		return true
	}
	return false
}

// Money is a fixed-point amount in minor currency units.
type Money int64

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateInitiated: {PaymentStatePending},
	PaymentStatePending:   {PaymentStateConfirmed, PaymentStateFailed},
	PaymentStateConfirmed: {PaymentStateRefunded},
}

// CanTransition reports whether the payment graph has an edge from s to next.
func (s PaymentState) CanTransition(next PaymentState) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment represents a driver's payment of the E-Card fee.
type Payment struct {
	ID               string
	DriverID         string
	Amount           Money
	Method           PaymentMethod
	State            PaymentState
	GatewayReference string
	FailureReason    string
	RefundReason     string
	CreatedAt        time.Time
	ConfirmedAt      time.Time
	FailedAt         time.Time
	RefundedAt       time.Time
	Version          int64
}
