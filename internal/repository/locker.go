package repository

import "context"

// Locker serializes mutations of a single entity across request handlers.
// Lock blocks until the key is held or ctx is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Lock key helpers. Callers holding both take the driver key first.
func PaymentLockKey(id string) string { return "payment:" + id }
func ECardLockKey(id string) string   { return "ecard:" + id }
func DriverLockKey(id string) string  { return "driver:" + id }
