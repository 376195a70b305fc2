package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pms/internal/database"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
	"github.com/mtlprog/pms/internal/testutil"
)

// RepositoryTestSuite tests the task and project repositories against a real database.
type RepositoryTestSuite struct {
	suite.Suite
	pool     *pgxpool.Pool
	tasks    *repository.TaskRepository
	projects *repository.ProjectRepository
}

// SetupSuite runs once before all tests.
func (s *RepositoryTestSuite) SetupSuite() {
	ctx := context.Background()

	db, err := database.New(ctx, testutil.DatabaseURL())
	s.Require().NoError(err, "failed to connect to database")
	s.pool = db.Pool()

	s.Require().NoError(database.RunMigrations(ctx, s.pool), "failed to run migrations")

	s.tasks = repository.NewTaskRepository(s.pool)
	s.projects = repository.NewProjectRepository(s.pool)
}

// SetupTest runs before each test.
func (s *RepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), testutil.TruncateAll)
	s.Require().NoError(err, "failed to truncate tables")
}

// TearDownSuite runs once after all tests.
func (s *RepositoryTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (s *RepositoryTestSuite) inTx(fn func(tx pgx.Tx) error) error {
	return database.RunInTx(context.Background(), s.pool, fn)
}

func (s *RepositoryTestSuite) createProject(name string) *domain.Project {
	var project *domain.Project
	s.Require().NoError(s.inTx(func(tx pgx.Tx) error {
		var err error
		project, err = s.projects.Create(context.Background(), tx, &domain.Project{
			Name:      name,
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		return err
	}))
	return project
}

func (s *RepositoryTestSuite) createTask(task *domain.Task) *domain.Task {
	s.Require().NoError(s.inTx(func(tx pgx.Tx) error {
		_, err := s.tasks.Create(context.Background(), tx, task)
		return err
	}))
	return task
}

// TestTaskCreate_Defaults tests the default status and priority.
func (s *RepositoryTestSuite) TestTaskCreate_Defaults() {
	project := s.createProject("Alpha")
	task := s.createTask(&domain.Task{Title: "Defaulted task", ProjectID: project.ID})

	s.NotEmpty(task.ID)
	s.Equal(domain.TaskStatusTodo, task.Status)
	s.Equal(domain.TaskPriorityMedium, task.Priority)

	got, err := s.tasks.GetWithProject(context.Background(), task.ID)
	s.Require().NoError(err)
	s.Equal("Alpha", got.ProjectName)
}

// TestTaskList_Filters tests conjunctive filters and soft-delete exclusion.
func (s *RepositoryTestSuite) TestTaskList_Filters() {
	ctx := context.Background()
	alpha := s.createProject("Alpha")
	beta := s.createProject("Beta")
	due := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	s.createTask(&domain.Task{Title: "Alpha high", ProjectID: alpha.ID, Priority: domain.TaskPriorityHigh, DueDate: &due})
	s.createTask(&domain.Task{Title: "Alpha low", ProjectID: alpha.ID, Priority: domain.TaskPriorityLow})
	s.createTask(&domain.Task{Title: "Beta high", ProjectID: beta.ID, Priority: domain.TaskPriorityHigh})
	gone := s.createTask(&domain.Task{Title: "Alpha deleted", ProjectID: alpha.ID, Priority: domain.TaskPriorityHigh})
	s.Require().NoError(s.inTx(func(tx pgx.Tx) error { return s.tasks.SoftDelete(ctx, tx, gone.ID) }))

	high := domain.TaskPriorityHigh
	results, err := s.tasks.List(ctx, repository.TaskFilter{Priority: &high, ProjectID: &alpha.ID})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("Alpha high", results[0].Task.Title)

	count, err := s.tasks.Count(ctx, repository.TaskFilter{ProjectID: &alpha.ID})
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	withDeleted, err := s.tasks.Count(ctx, repository.TaskFilter{ProjectID: &alpha.ID, IncludeDeleted: true})
	s.Require().NoError(err)
	s.Equal(int64(3), withDeleted)

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	dueSoon, err := s.tasks.List(ctx, repository.TaskFilter{DueAfter: &from, DueBefore: &to})
	s.Require().NoError(err)
	s.Require().Len(dueSoon, 1)
	s.Equal("Alpha high", dueSoon[0].Task.Title)

	deleted, err := s.tasks.GetByID(ctx, gone.ID)
	s.Require().NoError(err)
	s.True(deleted.Deleted)
}

// TestTaskGetByID_NotFound tests the not-found mapping.
func (s *RepositoryTestSuite) TestTaskGetByID_NotFound() {
	_, err := s.tasks.GetByID(context.Background(), uuid.NewString())
	s.ErrorIs(err, domain.ErrTaskNotFound)
}

// TestProjectNames_CaseInsensitive tests the name lookup and the unique index.
func (s *RepositoryTestSuite) TestProjectNames_CaseInsensitive() {
	ctx := context.Background()
	alpha := s.createProject("Alpha")

	s.Require().NoError(s.inTx(func(tx pgx.Tx) error {
		exists, err := s.projects.ExistsByNameIgnoreCase(ctx, tx, "ALPHA", "")
		s.True(exists)
		return err
	}))
	s.Require().NoError(s.inTx(func(tx pgx.Tx) error {
		exists, err := s.projects.ExistsByNameIgnoreCase(ctx, tx, "alpha", alpha.ID)
		s.False(exists)
		return err
	}))

	err := s.inTx(func(tx pgx.Tx) error {
		_, err := s.projects.Create(ctx, tx, &domain.Project{Name: "alpha", StartDate: time.Now()})
		return err
	})
	s.ErrorIs(err, domain.ErrDuplicateProjectName)

	s.Require().NoError(s.inTx(func(tx pgx.Tx) error { return s.projects.SoftDelete(ctx, tx, alpha.ID) }))
	s.createProject("alpha")
}

// TestProjectList_NameFilterAndCounts tests name filtering, LIKE escaping and task counts.
func (s *RepositoryTestSuite) TestProjectList_NameFilterAndCounts() {
	ctx := context.Background()
	plain := s.createProject("Budget 2025")
	s.createProject("100% Done")
	s.createTask(&domain.Task{Title: "Counted task", ProjectID: plain.ID})

	pct := "%"
	results, err := s.projects.List(ctx, repository.ProjectFilter{Name: &pct})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("100% Done", results[0].Project.Name)

	budget := "budget"
	results, err = s.projects.List(ctx, repository.ProjectFilter{Name: &budget})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(int64(1), results[0].TaskCount)

	page, err := s.projects.List(ctx, repository.ProjectFilter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("Budget 2025", page[0].Project.Name)
}

// TestProjectHardDelete_CascadesTasks tests the foreign key cascade.
func (s *RepositoryTestSuite) TestProjectHardDelete_CascadesTasks() {
	ctx := context.Background()
	project := s.createProject("Alpha")
	task := s.createTask(&domain.Task{Title: "Cascaded task", ProjectID: project.ID})

	s.Require().NoError(s.inTx(func(tx pgx.Tx) error { return s.projects.HardDelete(ctx, tx, project.ID) }))

	_, err := s.tasks.GetByID(ctx, task.ID)
	s.ErrorIs(err, domain.ErrTaskNotFound)
	_, err = s.projects.GetByID(ctx, project.ID)
	s.ErrorIs(err, domain.ErrProjectNotFound)
}

// TestTaskListByProjectForUpdate_SkipsTaskMovedOut tests that a locked project
// listing waits for a concurrent move and then leaves the moved task out.
func (s *RepositoryTestSuite) TestTaskListByProjectForUpdate_SkipsTaskMovedOut() {
	ctx := context.Background()
	alpha := s.createProject("Alpha")
	beta := s.createProject("Beta")
	kept := s.createTask(&domain.Task{Title: "Stays in alpha", ProjectID: alpha.ID})
	moving := s.createTask(&domain.Task{Title: "Moves to beta", ProjectID: alpha.ID})
	gone := s.createTask(&domain.Task{Title: "Deleted in alpha", ProjectID: alpha.ID})
	s.Require().NoError(s.inTx(func(tx pgx.Tx) error { return s.tasks.SoftDelete(ctx, tx, gone.ID) }))

	moveTx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = moveTx.Rollback(ctx) }()

	locked, err := s.tasks.GetByIDForUpdate(ctx, moveTx, moving.ID)
	s.Require().NoError(err)
	locked.ProjectID = beta.ID
	s.Require().NoError(s.tasks.Update(ctx, moveTx, locked))

	type listed struct {
		tasks []*domain.Task
		err   error
	}
	done := make(chan listed, 1)
	go func() {
		var out listed
		out.err = s.inTx(func(tx pgx.Tx) error {
			var err error
			out.tasks, err = s.tasks.ListByProjectForUpdate(ctx, tx, alpha.ID)
			return err
		})
		done <- out
	}()

	select {
	case <-done:
		s.Fail("listing did not wait for the row lock")
		return
	case <-time.After(200 * time.Millisecond):
	}
	s.Require().NoError(moveTx.Commit(ctx))

	select {
	case out := <-done:
		s.Require().NoError(out.err)
		ids := make([]string, 0, len(out.tasks))
		for _, t := range out.tasks {
			ids = append(ids, t.ID)
		}
		s.Equal([]string{kept.ID, gone.ID}, ids)
	case <-time.After(5 * time.Second):
		s.Fail("listing never returned")
	}
}

// TestProjectDateRange_Constraint tests the database-level date check.
func (s *RepositoryTestSuite) TestProjectDateRange_Constraint() {
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := s.inTx(func(tx pgx.Tx) error {
		_, err := s.projects.Create(context.Background(), tx, &domain.Project{
			Name:      "Backwards",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   &end,
		})
		return err
	})
	s.Error(err)
}
