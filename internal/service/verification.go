package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecard/internal/domain"
	"ecard/internal/metrics"
	"ecard/internal/repository"
)

// VerificationResult is the outcome of a border scan.
type VerificationResult struct {
	ECardID   string
	Valid     bool
	State     domain.ECardState
	Reason    domain.DenialReason
	AttemptID string
}

// VerificationService checks E-Cards at border posts and records every attempt.
type VerificationService struct {
	cards     *ECardService
	crossings repository.CrossingRepository
	cache     ECardCache
	notifier  *Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewVerificationService creates a new VerificationService. cache may be nil.
func NewVerificationService(
	cards *ECardService,
	crossings repository.CrossingRepository,
	cache ECardCache,
	notifier *Notifier,
	cfg Config,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		cards:     cards,
		crossings: crossings,
		cache:     cache,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Verify evaluates the card for a crossing. An unknown card is a denial, not
// an error. Exactly one crossing attempt is recorded per call.
func (s *VerificationService) Verify(ctx context.Context, eCardID, agentID string) (*VerificationResult, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrInvalidAgentID
	}
	if strings.TrimSpace(eCardID) == "" {
		return nil, ErrInvalidECardID
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	card, err := s.lookup(ctx, eCardID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	result := evaluate(eCardID, card)
	if err := s.record(ctx, agentID, card, result); err != nil {
		return nil, err
	}

	metrics.RecordVerification(resultOf(result), string(result.Reason))
	return result, nil
}

// ListAttempts retrieves the crossing attempts recorded against a card.
func (s *VerificationService) ListAttempts(ctx context.Context, eCardID string) ([]*domain.CrossingAttempt, error) {
	if eCardID == "" {
		return nil, ErrInvalidECardID
	}
	return s.crossings.ListByECard(ctx, eCardID)
}

// lookup serves terminal cards from cache and runs everything else through
// the card's scan transition.
func (s *VerificationService) lookup(ctx context.Context, eCardID string) (*domain.ECard, error) {
	if s.cache != nil {
		cached, err := s.cache.GetECard(ctx, eCardID)
		if err != nil {
			s.logger.WarnContext(ctx, "ecard cache read failed", "ecard_id", eCardID, "error", err)
		} else if cached != nil && cached.State.Terminal() {
			return cached, nil
		}
	}
	return s.cards.scan(ctx, eCardID)
}

func evaluate(eCardID string, card *domain.ECard) *VerificationResult {
	result := &VerificationResult{ECardID: eCardID}
	if card == nil {
		result.Reason = domain.DenialNotFound
		return result
	}

	result.State = card.State
	switch card.State {
	case domain.ECardStateActive:
		result.Valid = true
	case domain.ECardStateSuspended:
		result.Reason = domain.DenialSuspended
	case domain.ECardStateRevoked:
		result.Reason = domain.DenialRevoked
	case domain.ECardStateExpired:
		result.Reason = domain.DenialExpired
	default:
		result.Reason = domain.DenialNotIssued
	}
	return result
}

func (s *VerificationService) record(ctx context.Context, agentID string, card *domain.ECard, result *VerificationResult) error {
	now := s.now()
	attempt := &domain.CrossingAttempt{
		ID:           uuid.New().String(),
		ECardID:      result.ECardID,
		AgentID:      agentID,
		Timestamp:    now,
		Result:       domain.CrossingResult(resultOf(result)),
		DenialReason: result.Reason,
	}

	data := map[string]string{
		"ecard_id": attempt.ECardID,
		"agent_id": agentID,
		"result":   string(attempt.Result),
	}
	if attempt.DenialReason != "" {
		data["reason"] = string(attempt.DenialReason)
	}
	event := &domain.Event{
		ID:         uuid.New().String(),
		EntityID:   attempt.ID,
		EntityType: domain.EntityCrossing,
		Type:       domain.EventCrossingRecorded,
		ToState:    string(attempt.Result),
		Data:       data,
		OccurredAt: now,
	}
	if card != nil {
		event.DriverID = card.DriverID
	}

	if err := s.crossings.Create(ctx, attempt, event); err != nil {
		return err
	}
	result.AttemptID = attempt.ID
	s.notifier.Publish(ctx, event)
	return nil
}

func resultOf(result *VerificationResult) string {
	if result.Valid {
		return string(domain.CrossingApproved)
	}
	return string(domain.CrossingDenied)
}
