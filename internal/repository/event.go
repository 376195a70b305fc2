package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pms/internal/domain"
)

const eventVersionConstraint = "domain_events_aggregate_version"

var eventColumns = []string{
	"id", "event_type", "aggregate_type", "aggregate_id", "event_data",
	"metadata", "version", "occurred_at",
}

// EventRepository handles database operations for domain events.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// NextVersion reserves the next version for an aggregate. The counter row stays
// locked until tx ends, so concurrent appends to one aggregate run one at a time
// and a rolled back transaction gives its version back.
func (r *EventRepository) NextVersion(
	ctx context.Context,
	tx pgx.Tx,
	aggregateType domain.AggregateType,
	aggregateID string,
) (int64, error) {
	query, args, err := psql.
		Insert("aggregate_versions").
		Columns("aggregate_id", "aggregate_type", "version").
		Values(aggregateID, aggregateType, 1).
		Suffix("ON CONFLICT (aggregate_id) DO UPDATE SET version = aggregate_versions.version + 1 RETURNING version").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build NextVersion query: %w", err)
	}

	var version int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		return 0, fmt.Errorf("reserve version for %s %s: %w", aggregateType, aggregateID, err)
	}
	return version, nil
}

// Insert appends an event within tx and fills in its generated ID.
func (r *EventRepository) Insert(ctx context.Context, tx pgx.Tx, event *domain.DomainEvent) error {
	data, err := json.Marshal(nonNil(event.EventData))
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	metadata, err := json.Marshal(nonNil(event.Metadata))
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query, args, err := psql.
		Insert("domain_events").
		Columns("event_type", "aggregate_type", "aggregate_id", "event_data", "metadata", "version", "occurred_at").
		Values(event.EventType, event.AggregateType, event.AggregateID, string(data), string(metadata), event.Version, event.OccurredAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Insert query for event: %w", err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&event.ID); err != nil {
		if isUniqueViolation(err, eventVersionConstraint) {
			return fmt.Errorf("%w: %s v%d", domain.ErrVersionConflict, event.AggregateID, event.Version)
		}
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}

// ListByAggregate returns an aggregate's events ordered by version.
// limit 0 means unbounded.
func (r *EventRepository) ListByAggregate(ctx context.Context, aggregateID string, descending bool, limit uint64) ([]*domain.DomainEvent, error) {
	order := "version ASC"
	if descending {
		order = "version DESC"
	}
	qb := psql.
		Select(eventColumns...).
		From("domain_events").
		Where(sq.Eq{"aggregate_id": aggregateID}).
		OrderBy(order)
	if limit > 0 {
		qb = qb.Limit(limit)
	}
	return r.query(ctx, qb)
}

// ListByType returns events of one type in occurrence order, optionally within [start, end).
func (r *EventRepository) ListByType(ctx context.Context, eventType domain.EventType, start, end *time.Time) ([]*domain.DomainEvent, error) {
	qb := psql.
		Select(eventColumns...).
		From("domain_events").
		Where(sq.Eq{"event_type": eventType}).
		OrderBy("occurred_at ASC", "aggregate_id", "version ASC")
	if start != nil {
		qb = qb.Where(sq.GtOrEq{"occurred_at": *start})
	}
	if end != nil {
		qb = qb.Where(sq.Lt{"occurred_at": *end})
	}
	return r.query(ctx, qb)
}

// CountByType counts events of one type.
func (r *EventRepository) CountByType(ctx context.Context, eventType domain.EventType) (int64, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("domain_events").
		Where(sq.Eq{"event_type": eventType}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountByType query: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return total, nil
}

// CountGroupedByType counts events per type in one pass.
func (r *EventRepository) CountGroupedByType(ctx context.Context) (map[domain.EventType]int64, error) {
	query, args, err := psql.
		Select("event_type", "COUNT(*)").
		From("domain_events").
		GroupBy("event_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build CountGroupedByType query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int64)
	for rows.Next() {
		var (
			eventType domain.EventType
			total     int64
		)
		if err := rows.Scan(&eventType, &total); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return counts, nil
}

func (r *EventRepository) query(ctx context.Context, qb sq.SelectBuilder) ([]*domain.DomainEvent, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domain events: %w", err)
	}
	defer rows.Close()

	events := []*domain.DomainEvent{}
	for rows.Next() {
		var (
			event          domain.DomainEvent
			data, metadata []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.AggregateType,
			&event.AggregateID,
			&data,
			&metadata,
			&event.Version,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan domain event: %w", err)
		}
		if err := json.Unmarshal(data, &event.EventData); err != nil {
			return nil, fmt.Errorf("decode event data %s: %w", event.ID, err)
		}
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata %s: %w", event.ID, err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
