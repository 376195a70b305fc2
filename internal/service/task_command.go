package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/database"
	"github.com/mtlprog/pms/internal/domain"
)

// Operation names recorded in event metadata.
const (
	opCreate       = "CREATE"
	opUpdate       = "UPDATE"
	opStatusChange = "STATUS_CHANGE"
	opDelete       = "DELETE"
	opHardDelete   = "HARD_DELETE"

	deletionSoft      = "SOFT"
	deletionPermanent = "PERMANENT"
	warnIrreversible  = "IRREVERSIBLE_OPERATION"
)

// CreateTaskInput holds the fields of a new task. Empty Status and Priority
// default to TODO and MEDIUM.
type CreateTaskInput struct {
	Title       string
	Description string
	Status      domain.TaskStatus
	Priority    domain.TaskPriority
	DueDate     *time.Time
	ProjectID   string
}

// UpdateTaskInput is a partial update; nil fields are left unchanged.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Status      *domain.TaskStatus
	Priority    *domain.TaskPriority
	DueDate     *time.Time
	ProjectID   *string
}

// TaskCommandService performs task mutations. Each one writes the task and its
// audit event in a single transaction and evicts cached reads after commit.
type TaskCommandService struct {
	db        database.Beginner
	tasks     TaskStore
	events    EventAppender
	cache     cache.Cache
	notifier  Notifier
	validator *Validator
}

// NewTaskCommandService creates a new TaskCommandService.
func NewTaskCommandService(
	db database.Beginner,
	tasks TaskStore,
	projects ProjectStore,
	events EventAppender,
	c cache.Cache,
	notifier Notifier,
) *TaskCommandService {
	return &TaskCommandService{
		db:        db,
		tasks:     tasks,
		events:    events,
		cache:     c,
		notifier:  notifier,
		validator: NewValidator(projects),
	}
}

// Create stores a new task under a live project and records TASK_CREATED.
func (s *TaskCommandService) Create(ctx context.Context, in CreateTaskInput) (_ *TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskCommandService.Create")
	defer func() { endSpan(span, err) }()

	task := &domain.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		ProjectID:   in.ProjectID,
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.TaskPriorityMedium
	}
	if err := s.validator.CheckStatus(task.Status); err != nil {
		return nil, err
	}
	if err := s.validator.CheckPriority(task.Priority); err != nil {
		return nil, err
	}

	var project *domain.Project
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		project, err = s.validator.ActiveProject(ctx, tx, in.ProjectID)
		if err != nil {
			return err
		}

		if task, err = s.tasks.Create(ctx, tx, task); err != nil {
			return err
		}

		_, err = s.events.AppendTaskEvent(ctx, tx, domain.EventTaskCreated, task.ID, task.Snapshot(), map[string]any{
			domain.MetaOperation:   opCreate,
			domain.MetaProjectName: project.Name,
			domain.MetaActor:       auth.ActorName(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, cache.NamespaceTasks, cache.NamespaceProjects)
	s.notifier.TaskCreated(ctx, task)

	slog.Info("task created",
		"task_id", task.ID,
		"project_id", task.ProjectID,
		"status", task.Status,
	)

	view := newTaskView(task, project.Name)
	return &view, nil
}

// Update applies a partial update and records TASK_UPDATED with old and new values.
func (s *TaskCommandService) Update(ctx context.Context, taskID string, in UpdateTaskInput) (_ *TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskCommandService.Update")
	defer func() { endSpan(span, err) }()

	if in.Status != nil {
		if err := s.validator.CheckStatus(*in.Status); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil {
		if err := s.validator.CheckPriority(*in.Priority); err != nil {
			return nil, err
		}
	}

	var (
		task    *domain.Task
		project *domain.Project
	)
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if task, err = s.lockTask(ctx, tx, taskID); err != nil {
			return err
		}
		if in.Status != nil && *in.Status != task.Status {
			if err := s.validator.CanChangeStatus(task); err != nil {
				return err
			}
		}

		before := task.Snapshot()

		if in.ProjectID != nil && *in.ProjectID != task.ProjectID {
			project, err = s.validator.ActiveProject(ctx, tx, *in.ProjectID)
		} else {
			project, err = s.validator.projects.GetByIDForShare(ctx, tx, task.ProjectID)
		}
		if err != nil {
			return err
		}

		applyTaskUpdate(task, in)
		if err := s.tasks.Update(ctx, tx, task); err != nil {
			return err
		}

		_, err = s.events.AppendTaskEvent(ctx, tx, domain.EventTaskUpdated, task.ID, map[string]any{
			"taskId":    task.ID,
			"oldValues": before,
			"newValues": task.Snapshot(),
		}, map[string]any{
			domain.MetaOperation:   opUpdate,
			domain.MetaProjectName: project.Name,
			domain.MetaActor:       auth.ActorName(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, cache.NamespaceTasks, cache.NamespaceProjects)

	slog.Info("task updated", "task_id", task.ID)

	view := newTaskView(task, project.Name)
	return &view, nil
}

// UpdateStatus moves a live task to status and records TASK_STATUS_CHANGED.
// Soft-deleted tasks are rejected before anything is written.
func (s *TaskCommandService) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus) (_ *TaskView, err error) {
	ctx, span := startSpan(ctx, "TaskCommandService.UpdateStatus")
	defer func() { endSpan(span, err) }()

	if err := s.validator.CheckStatus(status); err != nil {
		return nil, err
	}

	var (
		task      *domain.Task
		project   *domain.Project
		oldStatus domain.TaskStatus
	)
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if task, err = s.lockTask(ctx, tx, taskID); err != nil {
			return err
		}
		if err := s.validator.CanChangeStatus(task); err != nil {
			return err
		}
		if project, err = s.validator.projects.GetByIDForShare(ctx, tx, task.ProjectID); err != nil {
			return err
		}

		oldStatus = task.Status
		task.Status = status
		if err := s.tasks.Update(ctx, tx, task); err != nil {
			return err
		}

		_, err = s.events.AppendTaskEvent(ctx, tx, domain.EventTaskStatusChanged, task.ID, map[string]any{
			"taskId":    task.ID,
			"projectId": task.ProjectID,
			"title":     task.Title,
			"oldStatus": string(oldStatus),
			"newStatus": string(status),
		}, map[string]any{
			domain.MetaOperation:        opStatusChange,
			domain.MetaProjectName:      project.Name,
			domain.MetaStatusTransition: fmt.Sprintf("%s -> %s", oldStatus, status),
			domain.MetaActor:            auth.ActorName(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, cache.NamespaceTasks, cache.NamespaceProjects)
	s.notifier.TaskStatusChanged(ctx, task, oldStatus)

	slog.Info("task status changed",
		"task_id", task.ID,
		"old_status", oldStatus,
		"new_status", status,
	)

	view := newTaskView(task, project.Name)
	return &view, nil
}

// Delete soft-deletes a task. The row and its history stay readable by ID.
func (s *TaskCommandService) Delete(ctx context.Context, taskID string) (err error) {
	ctx, span := startSpan(ctx, "TaskCommandService.Delete")
	defer func() { endSpan(span, err) }()

	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		task, err := s.lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Deleted {
			return fmt.Errorf("%w with id: %s", domain.ErrTaskNotFound, taskID)
		}
		project, err := s.validator.projects.GetByIDForShare(ctx, tx, task.ProjectID)
		if err != nil {
			return err
		}

		_, err = s.events.AppendTaskEvent(ctx, tx, domain.EventTaskDeleted, task.ID, task.Snapshot(), map[string]any{
			domain.MetaOperation:    opDelete,
			domain.MetaDeletionType: deletionSoft,
			domain.MetaProjectName:  project.Name,
			domain.MetaActor:        auth.ActorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.tasks.SoftDelete(ctx, tx, task.ID)
	})
	if err != nil {
		return err
	}

	s.evict(ctx, cache.NamespaceTasks, cache.NamespaceProjects)

	slog.Info("task deleted", "task_id", taskID)
	return nil
}

// HardDelete removes a task row for good. Admin only; its event history is kept.
func (s *TaskCommandService) HardDelete(ctx context.Context, taskID string) (err error) {
	ctx, span := startSpan(ctx, "TaskCommandService.HardDelete")
	defer func() { endSpan(span, err) }()

	if err := s.validator.RequireAdmin(ctx); err != nil {
		return err
	}

	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		task, err := s.lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		_, err = s.events.AppendTaskEvent(ctx, tx, domain.EventTaskDeleted, task.ID, task.Snapshot(), map[string]any{
			domain.MetaOperation:    opHardDelete,
			domain.MetaDeletionType: deletionPermanent,
			domain.MetaWarning:      warnIrreversible,
			domain.MetaActor:        auth.ActorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.tasks.HardDelete(ctx, tx, task.ID)
	})
	if err != nil {
		return err
	}

	s.evict(ctx, cache.NamespaceTasks, cache.NamespaceProjects)

	slog.Warn("task permanently deleted",
		"task_id", taskID,
		"actor", auth.ActorName(ctx),
	)
	return nil
}

func (s *TaskCommandService) lockTask(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	if !isID(taskID) {
		return nil, fmt.Errorf("%w with id: %s", domain.ErrTaskNotFound, taskID)
	}
	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w with id: %s", err, taskID)
	}
	return task, nil
}

// evict runs after commit and must not be skipped when the caller goes away.
func (s *TaskCommandService) evict(ctx context.Context, namespaces ...string) {
	cache.Evict(context.WithoutCancel(ctx), s.cache, namespaces...)
}

func applyTaskUpdate(task *domain.Task, in UpdateTaskInput) {
	if in.Title != nil {
		task.Title = *in.Title
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Status != nil {
		task.Status = *in.Status
	}
	if in.Priority != nil {
		task.Priority = *in.Priority
	}
	if in.DueDate != nil {
		task.DueDate = in.DueDate
	}
	if in.ProjectID != nil {
		task.ProjectID = *in.ProjectID
	}
}
