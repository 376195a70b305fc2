package domain

import "time"

// TaskStatus represents the lifecycle status of a task.
// Any status may move to any other; only deleted tasks are frozen.
type TaskStatus string

const (
	TaskStatusTodo  TaskStatus = "TODO"
	TaskStatusDoing TaskStatus = "DOING"
	TaskStatusDone  TaskStatus = "DONE"
)

// IsTerminal returns true if the status completes the task.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusDoing, TaskStatusDone:
		return true
	default:
		return false
	}
}

// TaskPriority represents the priority level of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityMedium TaskPriority = "MEDIUM"
	TaskPriorityHigh   TaskPriority = "HIGH"
)

// IsValid checks if the priority is one of the allowed values.
func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Task is a unit of work owned by a project.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	Deleted     bool
	ProjectID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot returns the field values recorded in audit events.
func (t *Task) Snapshot() map[string]any {
	return map[string]any{
		"taskId":      t.ID,
		"projectId":   t.ProjectID,
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"dueDate":     FormatDate(t.DueDate),
		"deleted":     t.Deleted,
	}
}

// DateLayout is the wire and audit format for calendar dates.
const DateLayout = "2006-01-02"

// FormatDate renders an optional date; nil stays nil so audit payloads keep the null.
func FormatDate(d *time.Time) any {
	if d == nil {
		return nil
	}
	return d.Format(DateLayout)
}
