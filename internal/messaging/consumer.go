package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/pms/internal/broker"
)

// DefaultPollInterval is how often an idle consumer checks for new messages.
const DefaultPollInterval = time.Second

// CompletionHook runs when a task reaches a terminal status. It must tolerate
// being called more than once for the same event.
type CompletionHook func(ctx context.Context, event TaskStatusChangedEvent) error

// LogCompletion is the default CompletionHook.
func LogCompletion(_ context.Context, event TaskStatusChangedEvent) error {
	slog.Info("task completion workflow triggered", "task_id", event.TaskID, "project_id", event.ProjectID)
	return nil
}

// Consumer handles task notifications delivered by a broker.
type Consumer struct {
	broker       broker.Broker
	onCompleted  CompletionHook
	pollInterval time.Duration
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithCompletionHook replaces the terminal-status side effect.
func WithCompletionHook(hook CompletionHook) ConsumerOption {
	return func(c *Consumer) { c.onCompleted = hook }
}

// WithPollInterval sets the idle wait between receive calls.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewConsumer creates a Consumer on b.
func NewConsumer(b broker.Broker, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		broker:       b,
		onCompleted:  LogCompletion,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleTaskCreated processes a task.created message.
func (c *Consumer) HandleTaskCreated(_ context.Context, msg broker.Message) error {
	var event TaskCreatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s message %s: %w", TopicTaskCreated, msg.ID, err)
	}

	slog.Info("task created notification received",
		"task_id", event.TaskID,
		"project_id", event.ProjectID,
		"title", event.Title,
		"attempt", msg.Attempts,
	)
	return nil
}

// HandleTaskStatusChanged processes a task.status.changed message and runs the
// completion hook when the task reached a terminal status.
func (c *Consumer) HandleTaskStatusChanged(ctx context.Context, msg broker.Message) error {
	var event TaskStatusChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s message %s: %w", TopicTaskStatusChanged, msg.ID, err)
	}

	slog.Info("task status changed notification received",
		"task_id", event.TaskID,
		"old_status", event.OldStatus,
		"new_status", event.NewStatus,
		"attempt", msg.Attempts,
	)

	if !event.NewStatus.IsTerminal() {
		return nil
	}
	if err := c.onCompleted(ctx, event); err != nil {
		return fmt.Errorf("completion workflow for task %s: %w", event.TaskID, err)
	}
	return nil
}

func (c *Consumer) handlers() map[string]broker.Handler {
	return map[string]broker.Handler{
		TopicTaskCreated:       c.HandleTaskCreated,
		TopicTaskStatusChanged: c.HandleTaskStatusChanged,
	}
}

// PollOnce delivers one batch on every topic and returns how many messages
// reached a handler.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	total := 0
	for topic, h := range c.handlers() {
		n, err := c.broker.Receive(ctx, topic, h)
		if err != nil {
			return total, fmt.Errorf("receive %s: %w", topic, err)
		}
		total += n
	}
	return total, nil
}

// Run consumes every topic on its own goroutine until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for topic, h := range c.handlers() {
		g.Go(func() error {
			return c.loop(ctx, topic, h)
		})
	}
	slog.Info("consumer started", "topics", Topics, "poll_interval", c.pollInterval)
	err := g.Wait()
	slog.Info("consumer stopped")
	return err
}

func (c *Consumer) loop(ctx context.Context, topic string, h broker.Handler) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := c.broker.Receive(ctx, topic, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("receive failed", "topic", topic, "error", err)
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
