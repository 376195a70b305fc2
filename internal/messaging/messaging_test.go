package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pms/internal/broker"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/messaging"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, string, []byte) error {
	p.calls++
	return errors.New("broker unavailable")
}

type MessagingTestSuite struct {
	suite.Suite
	broker    *broker.Memory
	producer  *messaging.Producer
	completed []messaging.TaskStatusChangedEvent
	consumer  *messaging.Consumer
	task      *domain.Task
}

func (s *MessagingTestSuite) SetupTest() {
	s.broker = broker.NewMemory(broker.RetryPolicy{MaxAttempts: 2})
	s.producer = messaging.NewProducer(s.broker, time.Second)
	s.completed = nil
	s.consumer = messaging.NewConsumer(s.broker, messaging.WithCompletionHook(
		func(_ context.Context, event messaging.TaskStatusChangedEvent) error {
			s.completed = append(s.completed, event)
			return nil
		},
	))
	s.task = &domain.Task{
		ID:        "11111111-1111-1111-1111-111111111111",
		ProjectID: "22222222-2222-2222-2222-222222222222",
		Title:     "T1 task title",
		Status:    domain.TaskStatusTodo,
		Priority:  domain.TaskPriorityHigh,
		CreatedAt: time.Now(),
	}
}

func TestMessagingSuite(t *testing.T) {
	suite.Run(t, new(MessagingTestSuite))
}

// TestTaskCreated_RoundTrip tests that a created notification reaches the consumer.
func (s *MessagingTestSuite) TestTaskCreated_RoundTrip() {
	ctx := context.Background()
	s.producer.TaskCreated(ctx, s.task)
	s.Equal(1, s.broker.Pending(messaging.TopicTaskCreated))

	n, err := s.consumer.PollOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(0, s.broker.Pending(messaging.TopicTaskCreated))
	s.Empty(s.completed)
}

// TestTaskStatusChanged_TerminalTriggersCompletion tests the completion hook.
func (s *MessagingTestSuite) TestTaskStatusChanged_TerminalTriggersCompletion() {
	ctx := context.Background()

	s.task.Status = domain.TaskStatusDoing
	s.producer.TaskStatusChanged(ctx, s.task, domain.TaskStatusTodo)
	s.task.Status = domain.TaskStatusDone
	s.producer.TaskStatusChanged(ctx, s.task, domain.TaskStatusDoing)

	_, err := s.consumer.PollOnce(ctx)
	s.Require().NoError(err)

	s.Require().Len(s.completed, 1)
	s.Equal(s.task.ID, s.completed[0].TaskID)
	s.Equal(domain.TaskStatusDoing, s.completed[0].OldStatus)
	s.Equal(domain.TaskStatusDone, s.completed[0].NewStatus)
}

// TestHandle_UndecodablePayloadIsDeadLettered tests that poison messages end up in the DLQ.
func (s *MessagingTestSuite) TestHandle_UndecodablePayloadIsDeadLettered() {
	ctx := context.Background()
	s.Require().NoError(s.broker.Publish(ctx, messaging.TopicTaskStatusChanged, "k", []byte("not json")))

	for i := 0; i < 2; i++ {
		_, err := s.consumer.PollOnce(ctx)
		s.Require().NoError(err)
	}

	dead, err := s.broker.DeadLetters(ctx, messaging.TopicTaskStatusChanged)
	s.Require().NoError(err)
	s.Len(dead, 1)
}

// TestHandle_FailingHookIsRetriedThenDeadLettered tests that hook errors use the retry budget.
func (s *MessagingTestSuite) TestHandle_FailingHookIsRetriedThenDeadLettered() {
	ctx := context.Background()
	calls := 0
	consumer := messaging.NewConsumer(s.broker, messaging.WithCompletionHook(
		func(context.Context, messaging.TaskStatusChangedEvent) error {
			calls++
			return errors.New("workflow down")
		},
	))

	s.task.Status = domain.TaskStatusDone
	s.producer.TaskStatusChanged(ctx, s.task, domain.TaskStatusDoing)

	for i := 0; i < 2; i++ {
		_, err := consumer.PollOnce(ctx)
		s.Require().NoError(err)
	}

	s.Equal(2, calls)
	dead, err := s.broker.DeadLetters(ctx, messaging.TopicTaskStatusChanged)
	s.Require().NoError(err)
	s.Len(dead, 1)
}

// TestProducer_PublishFailureIsSwallowed tests that broker errors do not escape the producer.
func (s *MessagingTestSuite) TestProducer_PublishFailureIsSwallowed() {
	publisher := &failingPublisher{}
	producer := messaging.NewProducer(publisher, 0)

	s.NotPanics(func() {
		producer.TaskCreated(context.Background(), s.task)
		producer.TaskStatusChanged(context.Background(), s.task, domain.TaskStatusTodo)
	})
	s.Equal(2, publisher.calls)
}

// TestRun_StopsOnCancel tests that Run drains messages and returns when cancelled.
func (s *MessagingTestSuite) TestRun_StopsOnCancel() {
	done := make(chan struct{})
	consumer := messaging.NewConsumer(s.broker,
		messaging.WithPollInterval(10*time.Millisecond),
		messaging.WithCompletionHook(func(context.Context, messaging.TaskStatusChangedEvent) error {
			close(done)
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	s.task.Status = domain.TaskStatusDone
	s.producer.TaskStatusChanged(context.Background(), s.task, domain.TaskStatusDoing)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("completion hook not called")
	}

	cancel()
	select {
	case err := <-errCh:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("consumer did not stop")
	}
}
