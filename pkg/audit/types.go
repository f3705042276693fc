package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role events
	EventTypeRoleSave   EventType = "role.save"
	EventTypeRoleDelete EventType = "role.delete"

	// Membership events
	EventTypeMembershipSave       EventType = "membership.save"
	EventTypeMembershipDelete     EventType = "membership.delete"
	EventTypeMembershipRoleGrant  EventType = "membership.role_grant"
	EventTypeMembershipRoleRevoke EventType = "membership.role_revoke"

	// Group type and field events
	EventTypeGroupTypeChange EventType = "group_type.change"
	EventTypeFieldChange     EventType = "field.change"
	EventTypeConfigChange    EventType = "config.change"

	// Access and maintenance events
	EventTypeAccessDenied EventType = "access.denied"
	EventTypePurge        EventType = "maintenance.purge"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed or accessed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeMembership ResourceType = "membership"
	ResourceTypeGroup      ResourceType = "group"
	ResourceTypeField      ResourceType = "field"
	ResourceTypeConfig     ResourceType = "config"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID *int64 `json:"user_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	GroupType    string       `json:"group_type,omitempty"`
	GroupIDs     []int64      `json:"group_ids,omitempty"`

	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON keeps timestamps in UTC RFC3339
func (e *AuditEvent) MarshalJSON() ([]byte, error) {
	type Alias AuditEvent
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Alias:     (*Alias)(e),
	})
}
