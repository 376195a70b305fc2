package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
)

// TaskStore is the task persistence used by the task services.
type TaskStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error)
	GetWithProject(ctx context.Context, taskID string) (*repository.TaskListResult, error)
	List(ctx context.Context, filter repository.TaskFilter) ([]repository.TaskListResult, error)
	ListByProjectForUpdate(ctx context.Context, tx pgx.Tx, projectID string) ([]*domain.Task, error)
	Count(ctx context.Context, filter repository.TaskFilter) (int64, error)
	Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error)
	Update(ctx context.Context, tx pgx.Tx, task *domain.Task) error
	SoftDelete(ctx context.Context, tx pgx.Tx, taskID string) error
	HardDelete(ctx context.Context, tx pgx.Tx, taskID string) error
}

// ProjectStore is the project persistence used by the services.
type ProjectStore interface {
	GetByIDForShare(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error)
	GetWithTaskCount(ctx context.Context, projectID string) (*repository.ProjectListResult, error)
	ExistsByNameIgnoreCase(ctx context.Context, tx pgx.Tx, name, excludeID string) (bool, error)
	List(ctx context.Context, filter repository.ProjectFilter) ([]repository.ProjectListResult, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, tx pgx.Tx, project *domain.Project) (*domain.Project, error)
	Update(ctx context.Context, tx pgx.Tx, project *domain.Project) error
	SoftDelete(ctx context.Context, tx pgx.Tx, projectID string) error
	HardDelete(ctx context.Context, tx pgx.Tx, projectID string) error
}

// EventAppender records domain events inside a mutation's transaction.
type EventAppender interface {
	AppendTaskEvent(ctx context.Context, tx pgx.Tx, eventType domain.EventType, taskID string, data, metadata map[string]any) (*domain.DomainEvent, error)
	AppendProjectEvent(ctx context.Context, tx pgx.Tx, eventType domain.EventType, projectID string, data, metadata map[string]any) (*domain.DomainEvent, error)
}

// Notifier sends best-effort task notifications after commit.
type Notifier interface {
	TaskCreated(ctx context.Context, task *domain.Task)
	TaskStatusChanged(ctx context.Context, task *domain.Task, oldStatus domain.TaskStatus)
}
