package eventstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pms/internal/database"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/eventstore"
	"github.com/mtlprog/pms/internal/repository"
	"github.com/mtlprog/pms/internal/testutil"
)

// EventStoreTestSuite tests the event store against a real database.
type EventStoreTestSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *eventstore.Store
	now   time.Time
}

// SetupSuite runs once before all tests.
func (s *EventStoreTestSuite) SetupSuite() {
	ctx := context.Background()

	db, err := database.New(ctx, testutil.DatabaseURL())
	s.Require().NoError(err, "failed to connect to database")
	s.pool = db.Pool()

	s.Require().NoError(database.RunMigrations(ctx, s.pool), "failed to run migrations")
}

// SetupTest runs before each test.
func (s *EventStoreTestSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), testutil.TruncateAll)
	s.Require().NoError(err, "failed to truncate tables")

	s.now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s.store = eventstore.New(repository.NewEventRepository(s.pool), "9.9.9",
		eventstore.WithClock(func() time.Time { return s.now }))
}

// TearDownSuite runs once after all tests.
func (s *EventStoreTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreTestSuite))
}

func (s *EventStoreTestSuite) append(eventType domain.EventType, id string, metadata map[string]any) *domain.DomainEvent {
	var event *domain.DomainEvent
	err := database.RunInTx(context.Background(), s.pool, func(tx pgx.Tx) error {
		var err error
		event, err = s.store.AppendTaskEvent(context.Background(), tx, eventType, id, map[string]any{"taskId": id}, metadata)
		return err
	})
	s.Require().NoError(err)
	return event
}

// TestAppend_VersionsStartAtOne tests per-aggregate version numbering.
func (s *EventStoreTestSuite) TestAppend_VersionsStartAtOne() {
	a, b := uuid.NewString(), uuid.NewString()

	s.Equal(int64(1), s.append(domain.EventTaskCreated, a, nil).Version)
	s.Equal(int64(2), s.append(domain.EventTaskUpdated, a, nil).Version)
	s.Equal(int64(1), s.append(domain.EventTaskCreated, b, nil).Version)
}

// TestAppend_ConcurrentVersionsContiguous tests that parallel appends get versions 1..N without gaps.
func (s *EventStoreTestSuite) TestAppend_ConcurrentVersionsContiguous() {
	id := uuid.NewString()
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := database.RunInTx(context.Background(), s.pool, func(tx pgx.Tx) error {
				_, err := s.store.AppendTaskEvent(context.Background(), tx, domain.EventTaskUpdated, id, nil, nil)
				return err
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	history, err := s.store.History(context.Background(), id)
	s.Require().NoError(err)
	s.Require().Len(history, writers)
	for i, event := range history {
		s.Equal(int64(i+1), event.Version)
	}
}

// TestAppend_RollbackReleasesVersion tests that an aborted append leaves no gap.
func (s *EventStoreTestSuite) TestAppend_RollbackReleasesVersion() {
	id := uuid.NewString()
	s.append(domain.EventTaskCreated, id, nil)

	errAbort := errors.New("abort")
	err := database.RunInTx(context.Background(), s.pool, func(tx pgx.Tx) error {
		if _, err := s.store.AppendTaskEvent(context.Background(), tx, domain.EventTaskUpdated, id, nil, nil); err != nil {
			return err
		}
		return errAbort
	})
	s.Require().ErrorIs(err, errAbort)

	s.Equal(int64(2), s.append(domain.EventTaskUpdated, id, nil).Version)
}

// TestAppend_EnrichesMetadata tests server tags and that caller keys win.
func (s *EventStoreTestSuite) TestAppend_EnrichesMetadata() {
	id := uuid.NewString()

	s.append(domain.EventTaskCreated, id, map[string]any{
		domain.MetaOperation: "CREATE",
		domain.MetaTimestamp: "caller-supplied",
	})

	history, err := s.store.History(context.Background(), id)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	meta := history[0].Metadata
	s.Equal("CREATE", meta[domain.MetaOperation])
	s.Equal("caller-supplied", meta[domain.MetaTimestamp])
	s.Equal("9.9.9", meta[domain.MetaAppVersion])
	s.Equal(domain.AggregateTask, history[0].AggregateType)
	s.Equal(id, history[0].EventData["taskId"])
	s.True(history[0].OccurredAt.Equal(s.now))
}

// TestRecentHistory_NewestFirst tests ordering and the limit.
func (s *EventStoreTestSuite) TestRecentHistory_NewestFirst() {
	id := uuid.NewString()
	for range 4 {
		s.append(domain.EventTaskUpdated, id, nil)
	}

	recent, err := s.store.RecentHistory(context.Background(), id, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(int64(4), recent[0].Version)
	s.Equal(int64(3), recent[1].Version)
}

// TestHistory_MalformedIDIsEmpty tests that a non-UUID id reads as an unknown aggregate.
func (s *EventStoreTestSuite) TestHistory_MalformedIDIsEmpty() {
	history, err := s.store.History(context.Background(), "abc")
	s.Require().NoError(err)
	s.NotNil(history)
	s.Empty(history)

	recent, err := s.store.RecentHistory(context.Background(), "abc", 5)
	s.Require().NoError(err)
	s.NotNil(recent)
	s.Empty(recent)
}

// TestEventsOfType_Window tests the half-open time window.
func (s *EventStoreTestSuite) TestEventsOfType_Window() {
	early, late := uuid.NewString(), uuid.NewString()
	s.append(domain.EventTaskCreated, early, nil)
	s.now = s.now.Add(2 * time.Hour)
	s.append(domain.EventTaskCreated, late, nil)

	all, err := s.store.EventsOfType(context.Background(), domain.EventTaskCreated, nil)
	s.Require().NoError(err)
	s.Len(all, 2)

	start := s.now.Add(-time.Hour)
	windowed, err := s.store.EventsOfType(context.Background(), domain.EventTaskCreated, &eventstore.TimeRange{Start: &start})
	s.Require().NoError(err)
	s.Require().Len(windowed, 1)
	s.Equal(late, windowed[0].AggregateID)

	end := s.now
	before, err := s.store.EventsOfType(context.Background(), domain.EventTaskCreated, &eventstore.TimeRange{End: &end})
	s.Require().NoError(err)
	s.Require().Len(before, 1)
	s.Equal(early, before[0].AggregateID)
}

// TestStats_ZeroFilled tests per-type counts.
func (s *EventStoreTestSuite) TestStats_ZeroFilled() {
	s.append(domain.EventTaskCreated, uuid.NewString(), nil)
	s.append(domain.EventTaskCreated, uuid.NewString(), nil)

	stats, err := s.store.Stats(context.Background())
	s.Require().NoError(err)
	s.Len(stats, 7)
	s.Equal(int64(2), stats[domain.EventTaskCreated])
	s.Equal(int64(0), stats[domain.EventProjectDeleted])

	count, err := s.store.CountByType(context.Background(), domain.EventTaskCreated)
	s.Require().NoError(err)
	s.Equal(int64(2), count)
}
