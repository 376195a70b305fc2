package dto

import (
	"time"

	"github.com/mtlprog/pms/internal/broker"
	"github.com/mtlprog/pms/internal/domain"
	"github.com/mtlprog/pms/internal/service"
)

// CountResponse represents the response of the count endpoints.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ProjectPageResponse represents one page of GET /projects.
type ProjectPageResponse struct {
	Projects []service.ProjectView `json:"projects"`
	Page     int                   `json:"page"`
	Size     int                   `json:"size"`
}

// EventResponse represents a domain event in the admin audit endpoints.
type EventResponse struct {
	ID            string         `json:"id"`
	EventType     string         `json:"eventType"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	EventData     map[string]any `json:"eventData"`
	Metadata      map[string]any `json:"metadata"`
	Version       int64          `json:"version"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// ToEventResponse converts a domain event.
func ToEventResponse(e *domain.DomainEvent) EventResponse {
	return EventResponse{
		ID:            e.ID,
		EventType:     string(e.EventType),
		AggregateType: string(e.AggregateType),
		AggregateID:   e.AggregateID,
		EventData:     e.EventData,
		Metadata:      e.Metadata,
		Version:       e.Version,
		OccurredAt:    e.OccurredAt,
	}
}

// ToEventResponses converts a list of domain events.
func ToEventResponses(events []*domain.DomainEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, ToEventResponse(e))
	}
	return out
}

// EventStatsResponse represents GET /admin/events/stats.
type EventStatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// ToEventStatsResponse converts per-type counts.
func ToEventStatsResponse(stats map[domain.EventType]int64) EventStatsResponse {
	resp := EventStatsResponse{Counts: make(map[string]int64, len(stats))}
	for t, n := range stats {
		resp.Counts[string(t)] = n
		resp.Total += n
	}
	return resp
}

// DeadLetterResponse represents a dead-lettered message.
type DeadLetterResponse struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	SourceTopic string    `json:"sourceTopic"`
	Key         string    `json:"key"`
	Payload     string    `json:"payload"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ToDeadLetterResponses converts broker messages.
func ToDeadLetterResponses(msgs []broker.Message) []DeadLetterResponse {
	out := make([]DeadLetterResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, DeadLetterResponse{
			ID:          m.ID,
			Topic:       m.Topic,
			SourceTopic: m.SourceTopic,
			Key:         m.Key,
			Payload:     string(m.Payload),
			Attempts:    m.Attempts,
			LastError:   m.LastError,
			PublishedAt: m.PublishedAt,
		})
	}
	return out
}
