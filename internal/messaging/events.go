// Package messaging turns task mutations into broker notifications and
// consumes them out of band.
package messaging

import (
	"time"

	"github.com/mtlprog/pms/internal/domain"
)

// Topics of the task notification flow. Each has a dead-letter twin, see broker.DeadLetterTopic.
const (
	TopicTaskCreated       = "task.created"
	TopicTaskStatusChanged = "task.status.changed"
)

// Topics lists every topic the consumer subscribes to.
var Topics = []string{TopicTaskCreated, TopicTaskStatusChanged}

// TaskCreatedEvent is published after a task is created.
type TaskCreatedEvent struct {
	TaskID      string              `json:"taskId"`
	ProjectID   string              `json:"projectId"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Status      domain.TaskStatus   `json:"status"`
	Priority    domain.TaskPriority `json:"priority"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// TaskStatusChangedEvent is published after a task changes status.
type TaskStatusChangedEvent struct {
	TaskID    string            `json:"taskId"`
	ProjectID string            `json:"projectId"`
	OldStatus domain.TaskStatus `json:"oldStatus"`
	NewStatus domain.TaskStatus `json:"newStatus"`
	ChangedAt time.Time         `json:"changedAt"`
}
