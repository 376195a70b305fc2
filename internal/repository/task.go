package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pms/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"t.id", "t.title", "t.description", "t.status", "t.priority", "t.due_date",
	"t.deleted", "t.project_id", "t.created_at", "t.updated_at",
}

// TaskFilter composes optional predicates conjunctively. A nil field means no
// constraint on that column.
type TaskFilter struct {
	Status         *domain.TaskStatus
	Priority       *domain.TaskPriority
	ProjectID      *string
	DueAfter       *time.Time // inclusive
	DueBefore      *time.Time // inclusive
	IncludeDeleted bool
}

// TaskListResult holds a task with its owning project's name.
type TaskListResult struct {
	Task        *domain.Task
	ProjectName string
}

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a Task struct. Extra destinations are appended
// after the task columns.
func scanTask(row pgx.Row, extra ...any) (*domain.Task, error) {
	var task domain.Task
	dest := []any{
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.DueDate,
		&task.Deleted,
		&task.ProjectID,
		&task.CreatedAt,
		&task.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &task, nil
}

func applyTaskFilter(qb sq.SelectBuilder, f TaskFilter) sq.SelectBuilder {
	if !f.IncludeDeleted {
		qb = qb.Where(sq.Eq{"t.deleted": false})
	}
	if f.Status != nil {
		qb = qb.Where(sq.Eq{"t.status": *f.Status})
	}
	if f.Priority != nil {
		qb = qb.Where(sq.Eq{"t.priority": *f.Priority})
	}
	if f.ProjectID != nil {
		qb = qb.Where(sq.Eq{"t.project_id": *f.ProjectID})
	}
	if f.DueAfter != nil {
		qb = qb.Where(sq.GtOrEq{"t.due_date": *f.DueAfter})
	}
	if f.DueBefore != nil {
		qb = qb.Where(sq.LtOrEq{"t.due_date": *f.DueBefore})
	}
	return qb
}

// GetByID retrieves a task by ID, soft-deleted ones included.
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks t").
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetWithProject retrieves a task and its project's name, soft-deleted tasks included.
func (r *TaskRepository) GetWithProject(ctx context.Context, taskID string) (*TaskListResult, error) {
	query, args, err := psql.
		Select(append(taskColumns, "p.name")...).
		From("tasks t").
		Join("projects p ON p.id = t.project_id").
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetWithProject query for task: %w", err)
	}

	var result TaskListResult
	task, err := scanTask(r.pool.QueryRow(ctx, query, args...), &result.ProjectName)
	if err != nil {
		return nil, err
	}
	result.Task = task
	return &result, nil
}

// GetByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within transaction).
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks t").
		Where(sq.Eq{"t.id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// List retrieves tasks matching the filter, newest first.
func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]TaskListResult, error) {
	qb := psql.
		Select(append(taskColumns, "p.name")...).
		From("tasks t").
		Join("projects p ON p.id = t.project_id")
	qb = applyTaskFilter(qb, filter).OrderBy("t.created_at DESC", "t.id")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	results := []TaskListResult{}
	for rows.Next() {
		var result TaskListResult
		task, err := scanTask(rows, &result.ProjectName)
		if err != nil {
			return nil, err
		}
		result.Task = task
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// ListByProjectForUpdate locks and returns every task of a project, deleted
// ones included, oldest first (within transaction). A task moved to another
// project by a transaction that commits first is not returned.
func (r *TaskRepository) ListByProjectForUpdate(ctx context.Context, tx pgx.Tx, projectID string) ([]*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks t").
		Where(sq.Eq{"t.project_id": projectID}).
		OrderBy("t.created_at", "t.id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByProjectForUpdate query for project %s: %w", projectID, err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock tasks of project %s: %w", projectID, err)
	}
	defer rows.Close()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// Count counts tasks matching the filter.
func (r *TaskRepository) Count(ctx context.Context, filter TaskFilter) (int64, error) {
	query, args, err := applyTaskFilter(psql.Select("COUNT(*)").From("tasks t"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build Count query: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return total, nil
}

// Create creates a new task in the database within a transaction.
// Returns the created task with ID, CreatedAt, and UpdatedAt populated.
func (r *TaskRepository) Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error) {
	if task.Status == "" {
		task.Status = domain.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.TaskPriorityMedium
	}

	query, args, err := psql.
		Insert("tasks").
		Columns("title", "description", "status", "priority", "due_date", "project_id").
		Values(task.Title, task.Description, task.Status, task.Priority, task.DueDate, task.ProjectID).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for task: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}

// Update writes every mutable field of the task and refreshes UpdatedAt.
func (r *TaskRepository) Update(ctx context.Context, tx pgx.Tx, task *domain.Task) error {
	query, args, err := psql.
		Update("tasks").
		Set("title", task.Title).
		Set("description", task.Description).
		Set("status", task.Status).
		Set("priority", task.Priority).
		Set("due_date", task.DueDate).
		Set("project_id", task.ProjectID).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": task.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for task %s: %w", task.ID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// SoftDelete flags the task as deleted.
func (r *TaskRepository) SoftDelete(ctx context.Context, tx pgx.Tx, taskID string) error {
	query, args, err := psql.
		Update("tasks").
		Set("deleted", true).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build SoftDelete query for task %s: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// HardDelete removes the task row permanently.
func (r *TaskRepository) HardDelete(ctx context.Context, tx pgx.Tx, taskID string) error {
	query, args, err := psql.
		Delete("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build HardDelete query for task %s: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("hard delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}
