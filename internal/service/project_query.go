package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/pms/internal/cache"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
)

// Paging defaults for project listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ProjectQueryService serves cached project reads.
type ProjectQueryService struct {
	projects ProjectStore
	cache    cache.Cache
	ttl      time.Duration
}

// NewProjectQueryService creates a new ProjectQueryService.
func NewProjectQueryService(projects ProjectStore, c cache.Cache, ttl time.Duration) *ProjectQueryService {
	return &ProjectQueryService{projects: projects, cache: c, ttl: ttl}
}

// FindByID returns one project with its live task count, soft-deleted or not.
func (s *ProjectQueryService) FindByID(ctx context.Context, projectID string) (_ *ProjectView, err error) {
	ctx, span := startSpan(ctx, "ProjectQueryService.FindByID")
	defer func() { endSpan(span, err) }()

	if !isID(projectID) {
		return nil, fmt.Errorf("%w with id: %s", domain.ErrProjectNotFound, projectID)
	}

	return cache.Load(ctx, s.cache, cache.NamespaceProjects, cache.Key("findById", projectID), s.ttl,
		func(ctx context.Context) (*ProjectView, error) {
			result, err := s.projects.GetWithTaskCount(ctx, projectID)
			if err != nil {
				return nil, fmt.Errorf("%w with id: %s", err, projectID)
			}
			view := newProjectView(result.Project, result.TaskCount)
			return &view, nil
		})
}

// FindAll returns one page of live projects ordered by name, optionally
// filtered by a case-insensitive name fragment. page is zero-based.
func (s *ProjectQueryService) FindAll(ctx context.Context, name *string, page, size int) (_ []ProjectView, err error) {
	ctx, span := startSpan(ctx, "ProjectQueryService.FindAll")
	defer func() { endSpan(span, err) }()

	page, size = normalizePage(page, size)

	return cache.Load(ctx, s.cache, cache.NamespaceProjects, cache.Key("findAll", name, page, size), s.ttl,
		func(ctx context.Context) ([]ProjectView, error) {
			results, err := s.projects.List(ctx, repository.ProjectFilter{
				Name:   name,
				Limit:  uint64(size),
				Offset: uint64(page * size),
			})
			if err != nil {
				return nil, fmt.Errorf("%w: list projects: %w", domain.ErrInfrastructure, err)
			}
			views := make([]ProjectView, 0, len(results))
			for _, r := range results {
				views = append(views, newProjectView(r.Project, r.TaskCount))
			}
			return views, nil
		})
}

// Count counts live projects.
func (s *ProjectQueryService) Count(ctx context.Context) (_ int64, err error) {
	ctx, span := startSpan(ctx, "ProjectQueryService.Count")
	defer func() { endSpan(span, err) }()

	return cache.Load(ctx, s.cache, cache.NamespaceProjects, cache.Key("count"), s.ttl, s.projects.Count)
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}
