package domain

import "time"

// AggregateType tags which kind of entity an event belongs to.
type AggregateType string

const (
	AggregateTask    AggregateType = "TASK"
	AggregateProject AggregateType = "PROJECT"
	AggregateUser    AggregateType = "USER"
)

// EventType names what happened to an aggregate.
type EventType string

const (
	EventTaskCreated       EventType = "TASK_CREATED"
	EventTaskUpdated       EventType = "TASK_UPDATED"
	EventTaskStatusChanged EventType = "TASK_STATUS_CHANGED"
	EventTaskDeleted       EventType = "TASK_DELETED"

	EventProjectCreated EventType = "PROJECT_CREATED"
	EventProjectUpdated EventType = "PROJECT_UPDATED"
	EventProjectDeleted EventType = "PROJECT_DELETED"

	EventUserRegistered EventType = "USER_REGISTERED"
	EventUserLoggedIn   EventType = "USER_LOGGED_IN"
	EventUserLoggedOut  EventType = "USER_LOGGED_OUT"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventTaskCreated, EventTaskUpdated, EventTaskStatusChanged, EventTaskDeleted,
	EventProjectCreated, EventProjectUpdated, EventProjectDeleted,
	EventUserRegistered, EventUserLoggedIn, EventUserLoggedOut,
}

// IsValid checks if the event type is known.
func (t EventType) IsValid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata keys written by command services and the event store.
const (
	MetaOperation        = "operation"
	MetaActor            = "actor"
	MetaProjectName      = "projectName"
	MetaStatusTransition = "statusTransition"
	MetaDeletionType     = "deletionType"
	MetaWarning          = "warning"
	MetaTimestamp        = "timestamp"
	MetaAppVersion       = "appVersion"
)

// DomainEvent is an immutable audit record of one mutation.
// Version starts at 1 and grows by one per AggregateID.
type DomainEvent struct {
	ID            string
	EventType     EventType
	AggregateType AggregateType
	AggregateID   string
	EventData     map[string]any
	Metadata      map[string]any
	Version       int64
	OccurredAt    time.Time
}
