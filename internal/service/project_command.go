package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/pms/internal/auth"
	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/database"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
)

// metaCascadeFrom tags task events written because their project was purged.
const metaCascadeFrom = "cascadeFrom"

// CreateProjectInput holds the fields of a new project.
type CreateProjectInput struct {
	Name        string
	Description string
	StartDate   time.Time
	EndDate     *time.Time
}

// UpdateProjectInput is a partial update; nil fields are left unchanged.
type UpdateProjectInput struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// ProjectCommandService performs project mutations with audit events.
type ProjectCommandService struct {
	db        database.Beginner
	projects  ProjectStore
	tasks     TaskStore
	events    EventAppender
	cache     cache.Cache
	validator *Validator
}

// NewProjectCommandService creates a new ProjectCommandService.
func NewProjectCommandService(
	db database.Beginner,
	projects ProjectStore,
	tasks TaskStore,
	events EventAppender,
	c cache.Cache,
) *ProjectCommandService {
	return &ProjectCommandService{
		db:        db,
		projects:  projects,
		tasks:     tasks,
		events:    events,
		cache:     c,
		validator: NewValidator(projects),
	}
}

// Create stores a project whose name is not used by any live project.
func (s *ProjectCommandService) Create(ctx context.Context, in CreateProjectInput) (_ *ProjectView, err error) {
	ctx, span := startSpan(ctx, "ProjectCommandService.Create")
	defer func() { endSpan(span, err) }()

	project := &domain.Project{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
	}
	if err := s.validator.CheckDateRange(project); err != nil {
		return nil, err
	}

	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.validator.CheckNameAvailable(ctx, tx, project.Name, ""); err != nil {
			return err
		}

		var err error
		if project, err = s.projects.Create(ctx, tx, project); err != nil {
			return err
		}

		_, err = s.events.AppendProjectEvent(ctx, tx, domain.EventProjectCreated, project.ID, project.Snapshot(), map[string]any{
			domain.MetaOperation: opCreate,
			domain.MetaActor:     auth.ActorName(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, cache.NamespaceProjects)

	slog.Info("project created", "project_id", project.ID, "name", project.Name)

	view := newProjectView(project, 0)
	return &view, nil
}

// Update applies a partial update. Date range and name uniqueness are checked
// against the merged result.
func (s *ProjectCommandService) Update(ctx context.Context, projectID string, in UpdateProjectInput) (_ *ProjectView, err error) {
	ctx, span := startSpan(ctx, "ProjectCommandService.Update")
	defer func() { endSpan(span, err) }()

	var project *domain.Project
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if project, err = s.lockLiveProject(ctx, tx, projectID); err != nil {
			return err
		}

		before := project.Snapshot()
		oldName := project.Name
		applyProjectUpdate(project, in)

		if err := s.validator.CheckDateRange(project); err != nil {
			return err
		}
		if project.Name != oldName {
			if err := s.validator.CheckNameAvailable(ctx, tx, project.Name, project.ID); err != nil {
				return err
			}
		}

		if err := s.projects.Update(ctx, tx, project); err != nil {
			return err
		}

		_, err = s.events.AppendProjectEvent(ctx, tx, domain.EventProjectUpdated, project.ID, map[string]any{
			"projectId": project.ID,
			"oldValues": before,
			"newValues": project.Snapshot(),
		}, map[string]any{
			domain.MetaOperation: opUpdate,
			domain.MetaActor:     auth.ActorName(ctx),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Task views carry the project name.
	s.evict(ctx, cache.NamespaceProjects, cache.NamespaceTasks)

	slog.Info("project updated", "project_id", project.ID)

	count, err := s.tasks.Count(ctx, repository.TaskFilter{ProjectID: &project.ID})
	if err != nil {
		slog.Warn("failed to count project tasks", "project_id", project.ID, "error", err)
	}
	view := newProjectView(project, count)
	return &view, nil
}

// Delete soft-deletes a project. Its tasks are left as they are.
func (s *ProjectCommandService) Delete(ctx context.Context, projectID string) (err error) {
	ctx, span := startSpan(ctx, "ProjectCommandService.Delete")
	defer func() { endSpan(span, err) }()

	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		project, err := s.lockLiveProject(ctx, tx, projectID)
		if err != nil {
			return err
		}

		_, err = s.events.AppendProjectEvent(ctx, tx, domain.EventProjectDeleted, project.ID, project.Snapshot(), map[string]any{
			domain.MetaOperation:    opDelete,
			domain.MetaDeletionType: deletionSoft,
			domain.MetaProjectName:  project.Name,
			domain.MetaActor:        auth.ActorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.projects.SoftDelete(ctx, tx, project.ID)
	})
	if err != nil {
		return err
	}

	s.evict(ctx, cache.NamespaceProjects, cache.NamespaceTasks)

	slog.Info("project deleted", "project_id", projectID)
	return nil
}

// HardDelete purges a project and, through the foreign key, all of its tasks.
// Every purged task gets its own TASK_DELETED event. Admin only.
func (s *ProjectCommandService) HardDelete(ctx context.Context, projectID string) (err error) {
	ctx, span := startSpan(ctx, "ProjectCommandService.HardDelete")
	defer func() { endSpan(span, err) }()

	if err := s.validator.RequireAdmin(ctx); err != nil {
		return err
	}
	actor := auth.ActorName(ctx)

	var purged int
	err = database.RunInTx(ctx, s.db, func(tx pgx.Tx) error {
		project, err := s.lockProject(ctx, tx, projectID)
		if err != nil {
			return err
		}

		// The project lock blocks new tasks and the row locks block moves out,
		// so exactly these tasks go with the cascade.
		tasks, err := s.tasks.ListByProjectForUpdate(ctx, tx, project.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			_, err := s.events.AppendTaskEvent(ctx, tx, domain.EventTaskDeleted, t.ID, t.Snapshot(), map[string]any{
				domain.MetaOperation:    opHardDelete,
				domain.MetaDeletionType: deletionPermanent,
				domain.MetaWarning:      warnIrreversible,
				domain.MetaProjectName:  project.Name,
				metaCascadeFrom:         project.ID,
				domain.MetaActor:        actor,
			})
			if err != nil {
				return err
			}
		}
		purged = len(tasks)

		_, err = s.events.AppendProjectEvent(ctx, tx, domain.EventProjectDeleted, project.ID, project.Snapshot(), map[string]any{
			domain.MetaOperation:    opHardDelete,
			domain.MetaDeletionType: deletionPermanent,
			domain.MetaWarning:      warnIrreversible,
			domain.MetaProjectName:  project.Name,
			domain.MetaActor:        actor,
		})
		if err != nil {
			return err
		}
		return s.projects.HardDelete(ctx, tx, project.ID)
	})
	if err != nil {
		return err
	}

	s.evict(ctx, cache.NamespaceProjects, cache.NamespaceTasks)

	slog.Warn("project permanently deleted",
		"project_id", projectID,
		"purged_tasks", purged,
		"actor", actor,
	)
	return nil
}

func (s *ProjectCommandService) lockProject(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error) {
	if !isID(projectID) {
		return nil, fmt.Errorf("%w with id: %s", domain.ErrProjectNotFound, projectID)
	}
	project, err := s.projects.GetByIDForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w with id: %s", err, projectID)
	}
	return project, nil
}

func (s *ProjectCommandService) lockLiveProject(ctx context.Context, tx pgx.Tx, projectID string) (*domain.Project, error) {
	project, err := s.lockProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if project.Deleted {
		return nil, fmt.Errorf("%w with id: %s", domain.ErrProjectNotFound, projectID)
	}
	return project, nil
}

func (s *ProjectCommandService) evict(ctx context.Context, namespaces ...string) {
	cache.Evict(context.WithoutCancel(ctx), s.cache, namespaces...)
}

func applyProjectUpdate(project *domain.Project, in UpdateProjectInput) {
	if in.Name != nil {
		project.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		project.Description = *in.Description
	}
	if in.StartDate != nil {
		project.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		project.EndDate = in.EndDate
	}
}
