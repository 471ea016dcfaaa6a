package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a create would violate a uniqueness rule.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrVersionConflict is returned when an update lost an optimistic version check.
	ErrVersionConflict = errors.New("entity version conflict")

	// ErrStorageUnavailable is returned when the backing store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTimeout is returned when a store call exceeded the caller's deadline.
	ErrTimeout = errors.New("storage timeout")
)
