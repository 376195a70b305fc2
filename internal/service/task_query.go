package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
)

// TaskQuery narrows FindAll. Nil fields do not constrain the result.
type TaskQuery struct {
	Status    *domain.TaskStatus
	Priority  *domain.TaskPriority
	ProjectID *string
}

// TaskQueryService serves cached task reads. Lists and counts skip
// soft-deleted tasks; FindByID does not.
type TaskQueryService struct {
	tasks TaskStore
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewTaskQueryService creates a new TaskQueryService.
func NewTaskQueryService(tasks TaskStore, c cache.Cache, ttl time.Duration) *TaskQueryService {
	return &TaskQueryService{tasks: tasks, cache: c, ttl: ttl, now: time.Now}
}

// FindByID returns one task, soft-deleted or not.
func (s *TaskQueryService) FindByID(ctx context.Context, taskID string) (_ *TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskQueryService.FindByID")
	defer func() { endSpan(span, err) }()

	if !isID(taskID) {
		return nil, fmt.Errorf("%w with id: %s", domain.ErrTaskNotFound, taskID)
	}

	return cache.Load(ctx, s.cache, cache.NamespaceTasks, cache.Key("findById", taskID), s.ttl,
		func(ctx context.Context) (*TaskView, error) {
			result, err := s.tasks.GetWithProject(ctx, taskID)
			if err != nil {
				return nil, fmt.Errorf("%w with id: %s", err, taskID)
			}
			view := newTaskView(result.Task, result.ProjectName)
			return &view, nil
		})
}

// FindAll returns live tasks matching every set field of q, newest first.
func (s *TaskQueryService) FindAll(ctx context.Context, q TaskQuery) (_ []TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskQueryService.FindAll")
	defer func() { endSpan(span, err) }()

	key := cache.Key("findAll", q.Status, q.Priority, q.ProjectID)
	return s.list(ctx, key, repository.TaskFilter{
		Status:    q.Status,
		Priority:  q.Priority,
		ProjectID: q.ProjectID,
	})
}

// FindByProject returns the live tasks of one project.
func (s *TaskQueryService) FindByProject(ctx context.Context, projectID string) ([]TaskView, error) {
	if !isID(projectID) {
		return []TaskView{}, nil
	}
	return s.list(ctx, cache.Key("findByProject", projectID), repository.TaskFilter{ProjectID: &projectID})
}

// FindByStatus returns the live tasks with status.
func (s *TaskQueryService) FindByStatus(ctx context.Context, status domain.TaskStatus) ([]TaskView, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return s.list(ctx, cache.Key("findByStatus", status), repository.TaskFilter{Status: &status})
}

// FindByPriority returns the live tasks with priority.
func (s *TaskQueryService) FindByPriority(ctx context.Context, priority domain.TaskPriority) ([]TaskView, error) {
	if !priority.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPriority, priority)
	}
	return s.list(ctx, cache.Key("findByPriority", priority), repository.TaskFilter{Priority: &priority})
}

// FindDueSoon returns live, unfinished tasks due within the window starting today,
// optionally limited to one project.
func (s *TaskQueryService) FindDueSoon(ctx context.Context, projectID *string, within time.Duration) (_ []TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskQueryService.FindDueSoon")
	defer func() { endSpan(span, err) }()

	from, to := DueSoonRange(s.now(), within)
	key := cache.Key("findDueSoon", projectID, from.Format(domain.DateLayout), to.Format(domain.DateLayout))

	all, err := s.list(ctx, key, repository.TaskFilter{
		ProjectID: projectID,
		DueAfter:  &from,
		DueBefore: &to,
	})
	if err != nil {
		return nil, err
	}

	open := make([]TaskView, 0, len(all))
	for _, t := range all {
		if !t.Status.IsTerminal() {
			open = append(open, t)
		}
	}
	return open, nil
}

// Count counts live tasks, optionally by status and project.
func (s *TaskQueryService) Count(ctx context.Context, status *domain.TaskStatus, projectID *string) (_ int64, err error) {
	ctx, span := startSpan(ctx, "TaskQueryService.Count")
	defer func() { endSpan(span, err) }()

	return cache.Load(ctx, s.cache, cache.NamespaceTasks, cache.Key("count", status, projectID), s.ttl,
		func(ctx context.Context) (int64, error) {
			return s.tasks.Count(ctx, repository.TaskFilter{Status: status, ProjectID: projectID})
		})
}

func (s *TaskQueryService) list(ctx context.Context, key string, filter repository.TaskFilter) ([]TaskView, error) {
	return cache.Load(ctx, s.cache, cache.NamespaceTasks, key, s.ttl,
		func(ctx context.Context) ([]TaskView, error) {
			results, err := s.tasks.List(ctx, filter)
			if err != nil {
				return nil, fmt.Errorf("%w: list tasks: %w", domain.ErrInfrastructure, err)
			}
			views := make([]TaskView, 0, len(results))
			for _, r := range results {
				views = append(views, newTaskView(r.Task, r.ProjectName))
			}
			return views, nil
		})
}
