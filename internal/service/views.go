package service

import (
	"time"

	"github.com/mtlprog/pms/internal/domain"
)

// TaskView is the read model of a task.
type TaskView struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      domain.TaskStatus   `json:"status"`
	Priority    domain.TaskPriority `json:"priority"`
	DueDate     *time.Time          `json:"dueDate,omitempty"`
	Deleted     bool                `json:"deleted"`
	ProjectID   string              `json:"projectId"`
	ProjectName string              `json:"projectName"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// ProjectView is the read model of a project.
type ProjectView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Deleted     bool       `json:"deleted"`
	TaskCount   int64      `json:"taskCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Times are normalized to UTC so a view decoded from the cache equals a fresh one.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func newTaskView(task *domain.Task, projectName string) TaskView {
	return TaskView{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Priority:    task.Priority,
		DueDate:     utcPtr(task.DueDate),
		Deleted:     task.Deleted,
		ProjectID:   task.ProjectID,
		ProjectName: projectName,
		CreatedAt:   task.CreatedAt.UTC(),
		UpdatedAt:   task.UpdatedAt.UTC(),
	}
}

func newProjectView(project *domain.Project, taskCount int64) ProjectView {
	return ProjectView{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		StartDate:   project.StartDate.UTC(),
		EndDate:     utcPtr(project.EndDate),
		Deleted:     project.Deleted,
		TaskCount:   taskCount,
		CreatedAt:   project.CreatedAt.UTC(),
		UpdatedAt:   project.UpdatedAt.UTC(),
	}
}
