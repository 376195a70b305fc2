package service_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/repository"
)

// fakeData is an in-memory backing store shared by the fake task and project stores.
type fakeData struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
	tasks    map[string]*domain.Task
	clock    time.Time

	taskLists    int
	taskGets     int
	projectLists int
}

func newFakeData() *fakeData {
	return &fakeData{
		projects: make(map[string]*domain.Project),
		tasks:    make(map[string]*domain.Task),
		clock:    time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (d *fakeData) tick() time.Time {
	d.clock = d.clock.Add(time.Second)
	return d.clock
}

func (d *fakeData) listCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskLists
}

func (d *fakeData) taskCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *fakeData) task(id string) (domain.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

type fakeTaskStore struct{ *fakeData }

func (s fakeTaskStore) GetByIDForUpdate(_ context.Context, _ pgx.Tx, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s fakeTaskStore) GetWithProject(_ context.Context, taskID string) (*repository.TaskListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskGets++
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &repository.TaskListResult{Task: &cp, ProjectName: s.projects[t.ProjectID].Name}, nil
}

func matchTask(t *domain.Task, f repository.TaskFilter) bool {
	switch {
	case t.Deleted && !f.IncludeDeleted:
		return false
	case f.Status != nil && t.Status != *f.Status:
		return false
	case f.Priority != nil && t.Priority != *f.Priority:
		return false
	case f.ProjectID != nil && t.ProjectID != *f.ProjectID:
		return false
	case f.DueAfter != nil && (t.DueDate == nil || t.DueDate.Before(*f.DueAfter)):
		return false
	case f.DueBefore != nil && (t.DueDate == nil || t.DueDate.After(*f.DueBefore)):
		return false
	}
	return true
}

func (s fakeTaskStore) List(_ context.Context, filter repository.TaskFilter) ([]repository.TaskListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskLists++
	results := []repository.TaskListResult{}
	for _, t := range s.tasks {
		if matchTask(t, filter) {
			cp := *t
			results = append(results, repository.TaskListResult{Task: &cp, ProjectName: s.projects[t.ProjectID].Name})
		}
	}
	slices.SortFunc(results, func(a, b repository.TaskListResult) int {
		if c := b.Task.CreatedAt.Compare(a.Task.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Task.ID, b.Task.ID)
	})
	return results, nil
}

func (s fakeTaskStore) ListByProjectForUpdate(_ context.Context, _ pgx.Tx, projectID string) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []*domain.Task{}
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			cp := *t
			tasks = append(tasks, &cp)
		}
	}
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

func (s fakeTaskStore) Count(_ context.Context, filter repository.TaskFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if matchTask(t, filter) {
			n++
		}
	}
	return n, nil
}

func (s fakeTaskStore) Create(_ context.Context, _ pgx.Tx, task *domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.ID = uuid.NewString()
	task.CreatedAt = s.tick()
	task.UpdatedAt = task.CreatedAt
	cp := *task
	s.tasks[task.ID] = &cp
	return task, nil
}

func (s fakeTaskStore) Update(_ context.Context, _ pgx.Tx, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return domain.ErrTaskNotFound
	}
	task.UpdatedAt = s.tick()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s fakeTaskStore) SoftDelete(_ context.Context, _ pgx.Tx, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	t.Deleted = true
	t.UpdatedAt = s.tick()
	return nil
}

func (s fakeTaskStore) HardDelete(_ context.Context, _ pgx.Tx, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

type fakeProjectStore struct{ *fakeData }

func (s fakeProjectStore) get(projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (s fakeProjectStore) GetByIDForShare(_ context.Context, _ pgx.Tx, projectID string) (*domain.Project, error) {
	return s.get(projectID)
}

func (s fakeProjectStore) GetByIDForUpdate(_ context.Context, _ pgx.Tx, projectID string) (*domain.Project, error) {
	return s.get(projectID)
}

func (s fakeProjectStore) liveTasks(projectID string) int64 {
	var n int64
	for _, t := range s.tasks {
		if t.ProjectID == projectID && !t.Deleted {
			n++
		}
	}
	return n
}

func (s fakeProjectStore) GetWithTaskCount(_ context.Context, projectID string) (*repository.ProjectListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &repository.ProjectListResult{Project: &cp, TaskCount: s.liveTasks(projectID)}, nil
}

func (s fakeProjectStore) ExistsByNameIgnoreCase(_ context.Context, _ pgx.Tx, name, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if !p.Deleted && p.ID != excludeID && strings.EqualFold(p.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s fakeProjectStore) List(_ context.Context, filter repository.ProjectFilter) ([]repository.ProjectListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectLists++
	results := []repository.ProjectListResult{}
	for _, p := range s.projects {
		if p.Deleted {
			continue
		}
		if filter.Name != nil && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(*filter.Name)) {
			continue
		}
		cp := *p
		results = append(results, repository.ProjectListResult{Project: &cp, TaskCount: s.liveTasks(p.ID)})
	}
	slices.SortFunc(results, func(a, b repository.ProjectListResult) int {
		return strings.Compare(strings.ToLower(a.Project.Name), strings.ToLower(b.Project.Name))
	})
	if filter.Limit > 0 {
		start := min(int(filter.Offset), len(results))
		end := min(start+int(filter.Limit), len(results))
		results = results[start:end]
	}
	return results, nil
}

func (s fakeProjectStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.projects {
		if !p.Deleted {
			n++
		}
	}
	return n, nil
}

func (s fakeProjectStore) Create(_ context.Context, _ pgx.Tx, project *domain.Project) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project.ID = uuid.NewString()
	project.CreatedAt = s.tick()
	project.UpdatedAt = project.CreatedAt
	cp := *project
	s.projects[project.ID] = &cp
	return project, nil
}

func (s fakeProjectStore) Update(_ context.Context, _ pgx.Tx, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return domain.ErrProjectNotFound
	}
	project.UpdatedAt = s.tick()
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s fakeProjectStore) SoftDelete(_ context.Context, _ pgx.Tx, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.Deleted = true
	return nil
}

func (s fakeProjectStore) HardDelete(_ context.Context, _ pgx.Tx, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return domain.ErrProjectNotFound
	}
	delete(s.projects, projectID)
	for id, t := range s.tasks {
		if t.ProjectID == projectID {
			delete(s.tasks, id)
		}
	}
	return nil
}

var errEventStoreDown = errors.New("event store unavailable")

// fakeEvents versions events per aggregate the way the event store does.
type fakeEvents struct {
	mu       sync.Mutex
	versions map[string]int64
	events   []*domain.DomainEvent
	failOn   domain.EventType
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{versions: make(map[string]int64)}
}

func (e *fakeEvents) AppendTaskEvent(_ context.Context, _ pgx.Tx, eventType domain.EventType, taskID string, data, metadata map[string]any) (*domain.DomainEvent, error) {
	return e.append(domain.AggregateTask, eventType, taskID, data, metadata)
}

func (e *fakeEvents) AppendProjectEvent(_ context.Context, _ pgx.Tx, eventType domain.EventType, projectID string, data, metadata map[string]any) (*domain.DomainEvent, error) {
	return e.append(domain.AggregateProject, eventType, projectID, data, metadata)
}

func (e *fakeEvents) append(aggType domain.AggregateType, eventType domain.EventType, id string, data, metadata map[string]any) (*domain.DomainEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eventType == e.failOn {
		return nil, errEventStoreDown
	}
	e.versions[id]++
	event := &domain.DomainEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggType,
		AggregateID:   id,
		EventData:     data,
		Metadata:      metadata,
		Version:       e.versions[id],
		OccurredAt:    time.Now().UTC(),
	}
	e.events = append(e.events, event)
	return event, nil
}

func (e *fakeEvents) of(aggregateID string) []*domain.DomainEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*domain.DomainEvent
	for _, ev := range e.events {
		if ev.AggregateID == aggregateID {
			out = append(out, ev)
		}
	}
	return out
}

func (e *fakeEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type recordingNotifier struct {
	mu      sync.Mutex
	created []string
	changed []string
}

func (n *recordingNotifier) TaskCreated(_ context.Context, task *domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, task.ID)
}

func (n *recordingNotifier) TaskStatusChanged(_ context.Context, task *domain.Task, oldStatus domain.TaskStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, string(oldStatus)+"->"+string(task.Status))
}
