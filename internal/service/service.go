package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// Config holds the business rules shared by the lifecycle services.
type Config struct {
	Fee              domain.Money
	Methods          []domain.PaymentMethod
	Validity         time.Duration
	OperationTimeout time.Duration
	MaxRetries       int
}

func (c Config) methodEnabled(method domain.PaymentMethod) bool {
	if !method.Valid() {
		return false
	}
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// withTimeout bounds a single operation, including lock waits and store calls.
func (c Config) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.OperationTimeout)
}

// retryOnConflict reruns fn while the store reports a lost version check.
func retryOnConflict(maxRetries int, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
}
