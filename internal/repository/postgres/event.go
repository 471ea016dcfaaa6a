package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"ecard/internal/domain"
	"ecard/internal/repository"
)

// EventRepository is a PostgreSQL implementation of repository.EventRepository.
type EventRepository struct {
	q Querier
}

// NewEventRepository creates a new PostgreSQL event log repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{q: db}
}

// Append adds an event to the entity's log.
func (r *EventRepository) Append(ctx context.Context, event *domain.Event) error {
	return translateError(insertEvent(ctx, r.q, event))
}

// ListByEntity retrieves an entity's events in the order they were written.
func (r *EventRepository) ListByEntity(ctx context.Context, entityID string) ([]*domain.Event, error) {
	query := `
		SELECT id, entity_id, entity_type, driver_id, event_type, from_state, to_state, data, occurred_at
		FROM ledger_events
		WHERE entity_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.q.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var event domain.Event
		var payload []byte
		if err := rows.Scan(
			&event.ID,
			&event.EntityID,
			&event.EntityType,
			&event.DriverID,
			&event.Type,
			&event.FromState,
			&event.ToState,
			&payload,
			&event.OccurredAt,
		); err != nil {
			return nil, translateError(err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, &event)
	}

	return events, translateError(rows.Err())
}

// Ensure EventRepository implements repository.EventRepository.
var _ repository.EventRepository = (*EventRepository)(nil)
