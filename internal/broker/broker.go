// Package broker is the durable delivery layer behind async notifications.
// Messages are retried with backoff and moved to a per-topic dead-letter
// destination once they exhaust their attempts or outlive their TTL.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/pms/internal/domain"
)

// ErrMessageNotFound is returned when requeueing an unknown dead letter.
var ErrMessageNotFound = fmt.Errorf("dead letter %w", domain.ErrNotFound)

// Message is one delivery unit.
type Message struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	SourceTopic string    `json:"sourceTopic,omitempty"` // set on dead letters
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"` // deliveries made, including the current one
	LastError   string    `json:"lastError,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Handler processes one message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg Message) error

// Broker publishes messages and delivers them to handlers at least once.
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	// Receive delivers one batch of due messages on topic and reports how many
	// reached the handler.
	Receive(ctx context.Context, topic string, h Handler) (int, error)
	DeadLetters(ctx context.Context, topic string) ([]Message, error)
	// Requeue moves a dead letter back to its source topic with a fresh budget.
	Requeue(ctx context.Context, id string) error
}

// DeadLetterTopic names the dead-letter destination of topic.
func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// RetryPolicy bounds delivery of a message.
type RetryPolicy struct {
	MaxAttempts int           // deliveries before dead-lettering
	Backoff     time.Duration // delay after the first failure, doubled per attempt
	MaxBackoff  time.Duration
	TTL         time.Duration // age after which undelivered messages are dead-lettered; 0 disables
	BatchSize   int
	Lease       time.Duration // how long a claimed message stays invisible to other consumers
}

// DefaultRetryPolicy gives every message three attempts and a one hour TTL.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     time.Second,
	MaxBackoff:  time.Minute,
	TTL:         time.Hour,
	BatchSize:   16,
	Lease:       30 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultRetryPolicy.BatchSize
	}
	if p.Lease <= 0 {
		p.Lease = DefaultRetryPolicy.Lease
	}
	return p
}

// delay returns the wait before the next delivery after the given number of attempts.
func (p RetryPolicy) delay(attempts int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// exhausted reports whether a failed message should be dead-lettered.
func (p RetryPolicy) exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// deliver runs h and turns a panic into an error so one poison message
// cannot take the consumer down.
func deliver(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message handler panicked", "topic", msg.Topic, "message_id", msg.ID, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
