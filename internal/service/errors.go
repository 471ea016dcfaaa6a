package service

import (
	"errors"
	"fmt"

	"ecard/internal/repository"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed from the entity's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidAmount is returned when a payment amount does not match the configured fee.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrInvalidMethod is returned when a payment method is unknown or disabled.
	ErrInvalidMethod = errors.New("invalid payment method")

	// ErrConflictingConfirmation is returned when a confirmed payment is confirmed again with another reference.
	ErrConflictingConfirmation = errors.New("conflicting confirmation")

	// ErrConflict is returned when optimistic-lock retries are exhausted.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrGatewayUnavailable is returned when a payment could not be handed to the gateway.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidArgument is returned when a request is missing or has malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

var (
	ErrInvalidDriverID  = fmt.Errorf("%w: driver id is required", ErrInvalidArgument)
	ErrInvalidPaymentID = fmt.Errorf("%w: payment id is required", ErrInvalidArgument)
	ErrInvalidECardID   = fmt.Errorf("%w: ecard id is required", ErrInvalidArgument)
	ErrInvalidAgentID   = fmt.Errorf("%w: agent id is required", ErrInvalidArgument)
	ErrMissingReference = fmt.Errorf("%w: gateway reference is required", ErrInvalidArgument)
	ErrReasonRequired   = fmt.Errorf("%w: reason is required", ErrInvalidArgument)
)

// Kind classifies an error for callers outside the engine.
type Kind string

const (
	KindInvalidTransition       Kind = "invalid_transition"
	KindInvalidAmount           Kind = "invalid_amount"
	KindInvalidMethod           Kind = "invalid_method"
	KindConflictingConfirmation Kind = "conflicting_confirmation"
	KindAlreadyExists           Kind = "already_exists"
	KindNotFound                Kind = "not_found"
	KindStorageUnavailable      Kind = "storage_unavailable"
	KindTimeout                 Kind = "timeout"
	KindConflict                Kind = "conflict"
	KindInvalidArgument         Kind = "invalid_argument"
	KindGatewayUnavailable      Kind = "gateway_unavailable"
	KindInternal                Kind = "internal"
)

var errorKinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidMethod, KindInvalidMethod},
	{ErrConflictingConfirmation, KindConflictingConfirmation},
	{ErrConflict, KindConflict},
	{ErrGatewayUnavailable, KindGatewayUnavailable},
	{ErrInvalidArgument, KindInvalidArgument},
	{repository.ErrNotFound, KindNotFound},
	{repository.ErrAlreadyExists, KindAlreadyExists},
	{repository.ErrVersionConflict, KindConflict},
	{repository.ErrStorageUnavailable, KindStorageUnavailable},
	{repository.ErrTimeout, KindTimeout},
}

// KindOf returns the kind of err, or KindInternal if it is not one of ours.
func KindOf(err error) Kind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the request with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStorageUnavailable, KindTimeout, KindConflict, KindGatewayUnavailable:
		return true
	}
	return false
}

func invalidTransition(entity, id string, from, to any) error {
	return fmt.Errorf("%w: %s %s is %v, cannot become %v", ErrInvalidTransition, entity, id, from, to)
}
