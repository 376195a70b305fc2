package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pms/internal/domain"
)

const projectNameIndex = "idx_projects_name_lower"

var projectColumns = []string{
	"p.id", "p.name", "p.description", "p.start_date", "p.end_date",
	"p.deleted", "p.created_at", "p.updated_at",
}

// taskCountColumn counts the live tasks of the row's project.
const taskCountColumn = "(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id AND NOT t.deleted)"

// ProjectFilter selects live projects, optionally by a case-insensitive name fragment.
type ProjectFilter struct {
	Name   *string
	Limit  uint64
	Offset uint64
}

// ProjectListResult holds a project with its derived task count.
type ProjectListResult struct {
	Project   *domain.Project
	TaskCount int64
}

// ProjectRepository handles database operations for projects.
type ProjectRepository struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func scanProject(row pgx.Row, extra ...any) (*domain.Project, error) {
	var p domain.Project
	dest := []any{
		&p.ID, &p.Name, &p.Description, &p.StartDate, &p.EndDate,
		&p.Deleted, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}

// GetByID retrieves a project by ID, soft-deleted ones included.
func (r *ProjectRepository) GetByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query, args, err := psql.
		Select(projectColumns...).
		From("projects p").
		Where(sq.Eq{"p.id": projectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for project: %w", err)
	}
	return scanProject(r.pool.QueryRow(ctx, query, args...))
}

// GetWithTaskCount retrieves a project with its live task count.
func (r *ProjectRepository) GetWithTaskCount(ctx context.Context, projectID string) (*ProjectListResult, error) {
	query, args, err := psql.
		Select(append(projectColumns, taskCountColumn)...).
		From("projects p").
		Where(sq.Eq{"p.id": projectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetWithTaskCount query for project: %w", err)
	}

	var result ProjectListResult
	project, err := scanProject(r.pool.QueryRow(ctx, query, args...), &result.TaskCount)
	if err != nil {
		return nil, err
	}
	result.Project = project
	return &result, nil
}

// GetByIDForShare reads a project inside a transaction and keeps it from being
// modified or removed until the transaction ends.
func (r *ProjectRepository) GetByIDForShare(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error) {
	return r.getLocked(ctx, tx, projectID, "FOR SHARE")
}

// GetByIDForUpdate retrieves a project by ID with FOR UPDATE lock (within transaction).
func (r *ProjectRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error) {
	return r.getLocked(ctx, tx, projectID, "FOR UPDATE")
}

func (r *ProjectRepository) getLocked(ctx context.Context, tx pgx.Tx, projectID, lock string) (*domain.Project, error) {
	query, args, err := psql.
		Select(projectColumns...).
		From("projects p").
		Where(sq.Eq{"p.id": projectID}).
		Suffix(lock).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build locked query for project %s: %w", projectID, err)
	}
	return scanProject(tx.QueryRow(ctx, query, args...))
}

// ExistsByNameIgnoreCase reports whether a live project other than excludeID
// already uses name, compared case-insensitively.
func (r *ProjectRepository) ExistsByNameIgnoreCase(ctx context.Context, tx pgx.Tx, name, excludeID string) (bool, error) {
	qb := psql.
		Select("1").
		From("projects").
		Where(sq.Expr("LOWER(name) = LOWER(?)", name)).
		Where(sq.Eq{"deleted": false})
	if excludeID != "" {
		qb = qb.Where(sq.NotEq{"id": excludeID})
	}

	query, args, err := qb.Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, fmt.Errorf("build ExistsByNameIgnoreCase query: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check project name: %w", err)
	}
	return exists, nil
}

// List retrieves live projects ordered by name.
func (r *ProjectRepository) List(ctx context.Context, filter ProjectFilter) ([]ProjectListResult, error) {
	qb := psql.
		Select(append(projectColumns, taskCountColumn)...).
		From("projects p").
		Where(sq.Eq{"p.deleted": false}).
		OrderBy("LOWER(p.name) ASC", "p.id")
	if filter.Name != nil && strings.TrimSpace(*filter.Name) != "" {
		qb = qb.Where(sq.ILike{"p.name": "%" + escapeLike(*filter.Name) + "%"})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(filter.Limit).Offset(filter.Offset)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build List query for projects: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	results := []ProjectListResult{}
	for rows.Next() {
		var result ProjectListResult
		project, err := scanProject(rows, &result.TaskCount)
		if err != nil {
			return nil, err
		}
		result.Project = project
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// Count counts live projects.
func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").From("projects").Where(sq.Eq{"deleted": false}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build Count query for projects: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return total, nil
}

// Create inserts a project. A concurrent insert of the same name surfaces as
// ErrDuplicateProjectName.
func (r *ProjectRepository) Create(ctx context.Context, tx pgx.Tx, project *domain.Project) (*domain.Project, error) {
	query, args, err := psql.
		Insert("projects").
		Columns("name", "description", "start_date", "end_date").
		Values(project.Name, project.Description, project.StartDate, project.EndDate).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for project: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, projectNameIndex) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateProjectName, project.Name)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

// Update writes every mutable field of the project and refreshes UpdatedAt.
func (r *ProjectRepository) Update(ctx context.Context, tx pgx.Tx, project *domain.Project) error {
	query, args, err := psql.
		Update("projects").
		Set("name", project.Name).
		Set("description", project.Description).
		Set("start_date", project.StartDate).
		Set("end_date", project.EndDate).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": project.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for project %s: %w", project.ID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&project.UpdatedAt); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.ErrProjectNotFound
		case isUniqueViolation(err, projectNameIndex):
			return fmt.Errorf("%w: %s", domain.ErrDuplicateProjectName, project.Name)
		}
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// SoftDelete flags the project as deleted.
func (r *ProjectRepository) SoftDelete(ctx context.Context, tx pgx.Tx, projectID string) error {
	query, args, err := psql.
		Update("projects").
		Set("deleted", true).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build SoftDelete query for project %s: %w", projectID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// HardDelete removes the project row; its tasks go with it via ON DELETE CASCADE.
func (r *ProjectRepository) HardDelete(ctx context.Context, tx pgx.Tx, projectID string) error {
	query, args, err := psql.Delete("projects").Where(sq.Eq{"id": projectID}).ToSql()
	if err != nil {
		return fmt.Errorf("build HardDelete query for project %s: %w", projectID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("hard delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
