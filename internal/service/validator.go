package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/domain"
)

// Validator checks the business rules that guard mutations.
type Validator struct {
	projects ProjectStore
}

// NewValidator creates a new Validator.
func NewValidator(projects ProjectStore) *Validator {
	return &Validator{projects: projects}
}

// CanChangeStatus rejects status changes of soft-deleted tasks.
func (v *Validator) CanChangeStatus(task *domain.Task) error {
	if task.Deleted {
		return fmt.Errorf("%w: task %s", domain.ErrTaskDeleted, task.ID)
	}
	return nil
}

// CheckStatus validates a requested status.
func (v *Validator) CheckStatus(status domain.TaskStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return nil
}

// CheckPriority validates a requested priority.
func (v *Validator) CheckPriority(priority domain.TaskPriority) error {
	if !priority.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPriority, priority)
	}
	return nil
}

// CheckDateRange rejects projects ending before they start.
func (v *Validator) CheckDateRange(project *domain.Project) error {
	if !project.HasValidDateRange() {
		return fmt.Errorf("%w: %s is before %s", domain.ErrInvalidDateRange,
			project.EndDate.Format(domain.DateLayout), project.StartDate.Format(domain.DateLayout))
	}
	return nil
}

// CheckNameAvailable rejects a name already used by another live project, ignoring case.
func (v *Validator) CheckNameAvailable(ctx context.Context, tx pgx.Tx, name, excludeID string) error {
	exists, err := v.projects.ExistsByNameIgnoreCase(ctx, tx, name, excludeID)
	if err != nil {
		return fmt.Errorf("check project name: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateProjectName, name)
	}
	return nil
}

// ActiveProject loads a live project inside tx and keeps it from being removed
// until tx ends.
func (v *Validator) ActiveProject(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error) {
	notFound := fmt.Errorf("%w with id: %s", domain.ErrProjectNotFound, projectID)
	if !isID(projectID) {
		return nil, notFound
	}
	project, err := v.projects.GetByIDForShare(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Deleted {
		return nil, notFound
	}
	return project, nil
}

// RequireAdmin guards the irreversible purge paths.
func (v *Validator) RequireAdmin(ctx context.Context) error {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return domain.ErrUnauthenticated
	}
	if !p.IsAdmin() {
		return fmt.Errorf("%w: %s", domain.ErrAdminOnly, p.Name())
	}
	return nil
}

// isID reports whether id can name a stored row.
func isID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
