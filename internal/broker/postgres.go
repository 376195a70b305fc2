package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	statusPending = "pending"
	statusDead    = "dead"
)

var messageColumns = []string{
	"id", "topic", "source_topic", "message_key", "payload", "attempts", "last_error", "published_at",
}

// claimQuery leases up to $2 due messages of topic $1 for $3 milliseconds and
// counts the delivery. Expired leases are reclaimed, so a consumer that dies
// mid-message still burns an attempt.
const claimQuery = `
UPDATE broker_messages
SET status = 'processing',
    attempts = attempts + 1,
    locked_until = NOW() + ($3 * INTERVAL '1 millisecond'),
    updated_at = NOW()
WHERE id IN (
    SELECT id FROM broker_messages
    WHERE topic = $1
      AND ((status = 'pending' AND next_attempt_at <= NOW())
        OR (status = 'processing' AND locked_until < NOW()))
    ORDER BY published_at, id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, topic, source_topic, message_key, payload, attempts, last_error, published_at`

// Postgres is a durable Broker on the broker_messages table.
type Postgres struct {
	pool   *pgxpool.Pool
	policy RetryPolicy
}

// NewPostgres creates a Postgres broker.
func NewPostgres(pool *pgxpool.Pool, policy RetryPolicy) *Postgres {
	return &Postgres{pool: pool, policy: policy.normalized()}
}

// Publish stores a message for later delivery.
func (p *Postgres) Publish(ctx context.Context, topic, key string, payload []byte) error {
	query, args, err := psql.
		Insert("broker_messages").
		Columns("id", "topic", "message_key", "payload").
		Values(uuid.NewString(), topic, key, payload).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Publish query: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Receive claims and delivers one batch of due messages on topic.
func (p *Postgres) Receive(ctx context.Context, topic string, h Handler) (int, error) {
	if err := p.expire(ctx, topic); err != nil {
		return 0, err
	}

	rows, err := p.pool.Query(ctx, claimQuery, topic, p.policy.BatchSize, float64(p.policy.Lease.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("claim messages on %s: %w", topic, err)
	}
	batch, err := scanMessages(rows)
	if err != nil {
		return 0, err
	}

	// Settle with a context that survives shutdown so a finished delivery is not redone.
	settleCtx := context.WithoutCancel(ctx)
	for _, msg := range batch {
		handleErr := deliver(ctx, h, msg)
		if err := p.settle(settleCtx, msg, handleErr); err != nil {
			return 0, err
		}
	}
	return len(batch), nil
}

// expire dead-letters pending messages older than the TTL.
func (p *Postgres) expire(ctx context.Context, topic string) error {
	if p.policy.TTL <= 0 {
		return nil
	}

	query, args, err := psql.
		Update("broker_messages").
		Set("status", statusDead).
		Set("source_topic", sq.Expr("topic")).
		Set("topic", DeadLetterTopic(topic)).
		Set("last_error", "message expired before delivery").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"topic": topic, "status": statusPending}).
		Where(sq.Lt{"published_at": time.Now().Add(-p.policy.TTL)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build expire query: %w", err)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("expire messages on %s: %w", topic, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Warn("expired messages dead-lettered", "topic", topic, "count", n)
	}
	return nil
}

func (p *Postgres) settle(ctx context.Context, msg Message, handleErr error) error {
	var qb sq.UpdateBuilder
	switch {
	case handleErr == nil:
		query, args, err := psql.Delete("broker_messages").Where(sq.Eq{"id": msg.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("build ack query: %w", err)
		}
		if _, err := p.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("ack message %s: %w", msg.ID, err)
		}
		return nil

	case p.policy.exhausted(msg.Attempts):
		slog.Warn("message dead-lettered",
			"topic", msg.Topic, "message_id", msg.ID, "attempts", msg.Attempts, "error", handleErr)
		qb = psql.Update("broker_messages").
			Set("status", statusDead).
			Set("source_topic", msg.Topic).
			Set("topic", DeadLetterTopic(msg.Topic))

	default:
		delay := p.policy.delay(msg.Attempts)
		slog.Info("message delivery failed, will retry",
			"topic", msg.Topic, "message_id", msg.ID, "attempts", msg.Attempts, "retry_in", delay, "error", handleErr)
		qb = psql.Update("broker_messages").
			Set("status", statusPending).
			Set("next_attempt_at", sq.Expr("NOW() + (? * INTERVAL '1 millisecond')", float64(delay.Milliseconds())))
	}

	query, args, err := qb.
		Set("last_error", handleErr.Error()).
		Set("locked_until", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": msg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build nack query: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("nack message %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetters lists dead letters of topic, oldest first.
func (p *Postgres) DeadLetters(ctx context.Context, topic string) ([]Message, error) {
	query, args, err := psql.
		Select(messageColumns...).
		From("broker_messages").
		Where(sq.Eq{"topic": DeadLetterTopic(topic), "status": statusDead}).
		OrderBy("published_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build DeadLetters query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters of %s: %w", topic, err)
	}
	return scanMessages(rows)
}

// Requeue returns a dead letter to its source topic with a fresh attempt budget.
func (p *Postgres) Requeue(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrMessageNotFound
	}

	query, args, err := psql.
		Update("broker_messages").
		Set("topic", sq.Expr("source_topic")).
		Set("source_topic", "").
		Set("status", statusPending).
		Set("attempts", 0).
		Set("last_error", "").
		Set("published_at", sq.Expr("NOW()")).
		Set("next_attempt_at", sq.Expr("NOW()")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": statusDead}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Requeue query: %w", err)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("requeue message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	slog.Info("dead letter requeued", "message_id", id)
	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.ID, &msg.Topic, &msg.SourceTopic, &msg.Key, &msg.Payload,
			&msg.Attempts, &msg.LastError, &msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return messages, nil
}
