package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	Message
	nextAttemptAt time.Time
	inFlight      bool
}

// Memory is an in-process Broker with the same retry and dead-letter rules as
// Postgres. Messages do not survive a restart.
type Memory struct {
	mu     sync.Mutex
	policy RetryPolicy
	queues map[string][]*memoryMessage
	dead   map[string][]Message
	now    func() time.Time
}

// NewMemory creates an empty in-process broker.
func NewMemory(policy RetryPolicy) *Memory {
	return &Memory{
		policy: policy.normalized(),
		queues: make(map[string][]*memoryMessage),
		dead:   make(map[string][]Message),
		now:    time.Now,
	}
}

// Publish enqueues a message on topic.
func (m *Memory) Publish(_ context.Context, topic, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.queues[topic] = append(m.queues[topic], &memoryMessage{
		Message: Message{
			ID:          uuid.NewString(),
			Topic:       topic,
			Key:         key,
			Payload:     payload,
			PublishedAt: now,
		},
		nextAttemptAt: now,
	})
	return nil
}

// Receive delivers due messages on topic in publish order.
func (m *Memory) Receive(ctx context.Context, topic string, h Handler) (int, error) {
	batch := m.claim(topic)
	for _, msg := range batch {
		err := deliver(ctx, h, msg.Message)
		m.settle(topic, msg, err)
	}
	return len(batch), nil
}

func (m *Memory) claim(topic string) []*memoryMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var batch, expired []*memoryMessage
	for _, msg := range m.queues[topic] {
		if len(batch) == m.policy.BatchSize {
			break
		}
		if msg.inFlight || now.Before(msg.nextAttemptAt) {
			continue
		}
		if m.policy.TTL > 0 && now.Sub(msg.PublishedAt) >= m.policy.TTL {
			expired = append(expired, msg)
			continue
		}
		msg.inFlight = true
		msg.Attempts++
		batch = append(batch, msg)
	}
	for _, msg := range expired {
		msg.LastError = "message expired before delivery"
		slog.Warn("message dead-lettered", "topic", topic, "message_id", msg.ID, "reason", "expired")
		m.kill(topic, msg)
	}
	return batch
}

func (m *Memory) settle(topic string, msg *memoryMessage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.inFlight = false
	if err == nil {
		m.remove(topic, msg)
		return
	}

	msg.LastError = err.Error()
	if m.policy.exhausted(msg.Attempts) {
		slog.Warn("message dead-lettered", "topic", topic, "message_id", msg.ID, "attempts", msg.Attempts, "error", err)
		m.kill(topic, msg)
		return
	}
	msg.nextAttemptAt = m.now().Add(m.policy.delay(msg.Attempts))
	slog.Info("message delivery failed, will retry", "topic", topic, "message_id", msg.ID, "attempts", msg.Attempts, "error", err)
}

// kill moves msg to the dead-letter topic. Caller holds m.mu.
func (m *Memory) kill(topic string, msg *memoryMessage) {
	m.remove(topic, msg)
	dead := msg.Message
	dead.SourceTopic = topic
	dead.Topic = DeadLetterTopic(topic)
	m.dead[dead.Topic] = append(m.dead[dead.Topic], dead)
}

// remove drops msg from its queue. Caller holds m.mu.
func (m *Memory) remove(topic string, msg *memoryMessage) {
	queue := m.queues[topic]
	for i, candidate := range queue {
		if candidate == msg {
			m.queues[topic] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// DeadLetters lists dead letters of topic, oldest first.
func (m *Memory) DeadLetters(_ context.Context, topic string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dead := m.dead[DeadLetterTopic(topic)]
	out := make([]Message, len(dead))
	copy(out, dead)
	return out, nil
}

// Requeue returns a dead letter to its source topic.
func (m *Memory) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dlq, dead := range m.dead {
		for i, msg := range dead {
			if msg.ID != id {
				continue
			}
			m.dead[dlq] = append(dead[:i], dead[i+1:]...)
			now := m.now()
			revived := msg
			revived.Topic = msg.SourceTopic
			revived.SourceTopic = ""
			revived.Attempts = 0
			revived.LastError = ""
			revived.PublishedAt = now
			m.queues[revived.Topic] = append(m.queues[revived.Topic], &memoryMessage{Message: revived, nextAttemptAt: now})
			return nil
		}
	}
	return ErrMessageNotFound
}

// Pending counts undelivered messages on topic.
func (m *Memory) Pending(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[topic])
}
