package redis

import (
	"context"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// ECardCacheInterface defines the read cache used for terminal cards.
type ECardCacheInterface interface {
	GetECard(ctx context.Context, id string) (*domain.ECard, error)
	SetECard(ctx context.Context, card *domain.ECard) error
	InvalidateECard(ctx context.Context, id string) error
}

// Ensure concrete types implement interfaces.
var (
	_ ECardCacheInterface = (*CacheStore)(nil)
	_ repository.Locker   = (*LockStore)(nil)
)
