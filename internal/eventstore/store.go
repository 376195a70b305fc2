// Package eventstore keeps the append-only, per-aggregate versioned log of
// everything that happens to tasks and projects.
package eventstore

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mtlprog/pms/internal/domain"
)

// DefaultRecentLimit caps RecentHistory when the caller passes no limit.
const DefaultRecentLimit = 10

// Repository is the storage the Store appends to and reads from.
type Repository interface {
	NextVersion(ctx context.Context, tx pgx.Tx, aggregateType domain.AggregateType, aggregateID string) (int64, error)
	Insert(ctx context.Context, tx pgx.Tx, event *domain.DomainEvent) error
	ListByAggregate(ctx context.Context, aggregateID string, descending bool, limit uint64) ([]*domain.DomainEvent, error)
	ListByType(ctx context.Context, eventType domain.EventType, start, end *time.Time) ([]*domain.DomainEvent, error)
	CountByType(ctx context.Context, eventType domain.EventType) (int64, error)
	CountGroupedByType(ctx context.Context) (map[domain.EventType]int64, error)
}

// TimeRange bounds a query to [Start, End). Either end may be nil.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// Store appends and reads domain events.
type Store struct {
	repo       Repository
	appVersion string
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for OccurredAt and the timestamp tag.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store that tags events with appVersion.
func New(repo Repository, appVersion string, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		appVersion: appVersion,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendTaskEvent records an event for a task inside the caller's transaction.
func (s *Store) AppendTaskEvent(
	ctx context.Context,
	tx pgx.Tx,
	eventType domain.EventType,
	taskID string,
	data, metadata map[string]any,
) (*domain.DomainEvent, error) {
	return s.append(ctx, tx, domain.AggregateTask, eventType, taskID, data, metadata)
}

// AppendProjectEvent records an event for a project inside the caller's transaction.
func (s *Store) AppendProjectEvent(
	ctx context.Context,
	tx pgx.Tx,
	eventType domain.EventType,
	projectID string,
	data, metadata map[string]any,
) (*domain.DomainEvent, error) {
	return s.append(ctx, tx, domain.AggregateProject, eventType, projectID, data, metadata)
}

func (s *Store) append(
	ctx context.Context,
	tx pgx.Tx,
	aggregateType domain.AggregateType,
	eventType domain.EventType,
	aggregateID string,
	data, metadata map[string]any,
) (*domain.DomainEvent, error) {
	version, err := s.repo.NextVersion(ctx, tx, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", eventType, err)
	}

	occurredAt := s.now().UTC()
	event := &domain.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventData:     data,
		Metadata:      s.enrich(metadata, occurredAt),
		Version:       version,
		OccurredAt:    occurredAt,
	}

	if err := s.repo.Insert(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("append %s: %w", eventType, err)
	}
	return event, nil
}

// enrich adds server-side tags without overwriting keys the caller set.
func (s *Store) enrich(metadata map[string]any, at time.Time) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	maps.Copy(out, metadata)
	if _, ok := out[domain.MetaTimestamp]; !ok {
		out[domain.MetaTimestamp] = at.Format(time.RFC3339Nano)
	}
	if _, ok := out[domain.MetaAppVersion]; !ok {
		out[domain.MetaAppVersion] = s.appVersion
	}
	return out
}

// History returns every event of an aggregate, oldest first. An id that is
// not a UUID names no aggregate and has an empty history.
func (s *Store) History(ctx context.Context, aggregateID string) ([]*domain.DomainEvent, error) {
	if !isAggregateID(aggregateID) {
		return []*domain.DomainEvent{}, nil
	}
	events, err := s.repo.ListByAggregate(ctx, aggregateID, false, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %w", domain.ErrInfrastructure, aggregateID, err)
	}
	return events, nil
}

// RecentHistory returns up to limit events of an aggregate, newest first.
func (s *Store) RecentHistory(ctx context.Context, aggregateID string, limit int) ([]*domain.DomainEvent, error) {
	if !isAggregateID(aggregateID) {
		return []*domain.DomainEvent{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	events, err := s.repo.ListByAggregate(ctx, aggregateID, true, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: recent history of %s: %w", domain.ErrInfrastructure, aggregateID, err)
	}
	return events, nil
}

// EventsOfType returns events of one type, optionally bounded in time.
func (s *Store) EventsOfType(ctx context.Context, eventType domain.EventType, window *TimeRange) ([]*domain.DomainEvent, error) {
	var start, end *time.Time
	if window != nil {
		start, end = window.Start, window.End
	}
	events, err := s.repo.ListByType(ctx, eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: events of type %s: %w", domain.ErrInfrastructure, eventType, err)
	}
	return events, nil
}

// CountByType counts events of one type.
func (s *Store) CountByType(ctx context.Context, eventType domain.EventType) (int64, error) {
	total, err := s.repo.CountByType(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", domain.ErrInfrastructure, eventType, err)
	}
	return total, nil
}

// statsTypes are the event types reported by Stats.
var statsTypes = []domain.EventType{
	domain.EventTaskCreated, domain.EventTaskUpdated, domain.EventTaskStatusChanged, domain.EventTaskDeleted,
	domain.EventProjectCreated, domain.EventProjectUpdated, domain.EventProjectDeleted,
}

// Stats counts task and project events per type, zero-filled.
func (s *Store) Stats(ctx context.Context) (map[domain.EventType]int64, error) {
	grouped, err := s.repo.CountGroupedByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: event stats: %w", domain.ErrInfrastructure, err)
	}
	stats := make(map[domain.EventType]int64, len(statsTypes))
	for _, t := range statsTypes {
		stats[t] = grouped[t]
	}
	return stats, nil
}

func isAggregateID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
