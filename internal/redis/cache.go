package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ecard/internal/domain"
)

// ECardCacheTTL bounds how long a terminal card snapshot is served.
// Terminal cards never change, so the TTL only limits memory.
const ECardCacheTTL = 10 * time.Minute

const ecardCachePrefix = "cache:ecard:"

// CachedECard is the cached snapshot of a card.
type CachedECard struct {
	ID              string    `json:"id"`
	DriverID        string    `json:"driver_id"`
	State           string    `json:"state"`
	LinkedPaymentID string    `json:"linked_payment_id,omitempty"`
	RevokeReason    string    `json:"revoke_reason,omitempty"`
	RevokedAt       time.Time `json:"revoked_at,omitempty"`
	ExpiredAt       time.Time `json:"expired_at,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	Version         int64     `json:"version"`
}

// CacheStore handles E-Card caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetECard retrieves a card from cache. Returns nil on a miss.
func (s *CacheStore) GetECard(ctx context.Context, id string) (*domain.ECard, error) {
	data, err := s.client.Get(ctx, ecardCachePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached CachedECard
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	return &domain.ECard{
		ID:              cached.ID,
		DriverID:        cached.DriverID,
		State:           domain.ECardState(cached.State),
		LinkedPaymentID: cached.LinkedPaymentID,
		RevokeReason:    cached.RevokeReason,
		RevokedAt:       cached.RevokedAt,
		ExpiredAt:       cached.ExpiredAt,
		ExpiresAt:       cached.ExpiresAt,
		Version:         cached.Version,
	}, nil
}

// SetECard stores a card in cache.
func (s *CacheStore) SetECard(ctx context.Context, card *domain.ECard) error {
	data, err := json.Marshal(CachedECard{
		ID:              card.ID,
		DriverID:        card.DriverID,
		State:           string(card.State),
		LinkedPaymentID: card.LinkedPaymentID,
		RevokeReason:    card.RevokeReason,
		RevokedAt:       card.RevokedAt,
		ExpiredAt:       card.ExpiredAt,
		ExpiresAt:       card.ExpiresAt,
		Version:         card.Version,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, ecardCachePrefix+card.ID, data, ECardCacheTTL).Err()
}

// InvalidateECard removes a card from cache.
func (s *CacheStore) InvalidateECard(ctx context.Context, id string) error {
	return s.client.Del(ctx, ecardCachePrefix+id).Err()
}
