package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/pms/internal/domain"
)

// DefaultPublishTimeout bounds how long a request waits on the broker.
const DefaultPublishTimeout = 2 * time.Second

// Publisher is the send side of a broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Producer publishes task notifications. Publishing happens after the
// mutation committed, so failures are logged and never returned.
type Producer struct {
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
}

// NewProducer creates a Producer. timeout <= 0 selects DefaultPublishTimeout.
func NewProducer(publisher Publisher, timeout time.Duration) *Producer {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Producer{publisher: publisher, timeout: timeout, now: time.Now}
}

// TaskCreated publishes a TaskCreatedEvent keyed by task id.
func (p *Producer) TaskCreated(ctx context.Context, task *domain.Task) {
	p.publish(ctx, TopicTaskCreated, task.ID, TaskCreatedEvent{
		TaskID:      task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Priority:    task.Priority,
		CreatedAt:   task.CreatedAt,
	})
}

// TaskStatusChanged publishes a TaskStatusChangedEvent keyed by task id.
func (p *Producer) TaskStatusChanged(ctx context.Context, task *domain.Task, oldStatus domain.TaskStatus) {
	p.publish(ctx, TopicTaskStatusChanged, task.ID, TaskStatusChangedEvent{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		OldStatus: oldStatus,
		NewStatus: task.Status,
		ChangedAt: p.now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, key string, event any) {
	if err := p.send(ctx, topic, key, event); err != nil {
		slog.Error("failed to publish notification", "topic", topic, "task_id", key, "error", err)
		return
	}
	slog.Debug("notification published", "topic", topic, "task_id", key)
}

func (p *Producer) send(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	return p.publisher.Publish(ctx, topic, key, payload)
}
