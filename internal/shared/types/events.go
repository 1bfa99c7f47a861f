package types

import "time"

// EventType discriminates automation events on the realtime channel
type EventType string

const (
	EventAutomationStart EventType = "automation_start"
	EventProgress        EventType = "automation_progress"
	EventComplete        EventType = "automation_complete"
	EventError           EventType = "automation_error"
	EventUserTakeover    EventType = "user_takeover"
	EventUserRelease     EventType = "user_release"
)

// AutomationEvent is the frame broadcast to every viewer of a session
type AutomationEvent struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(sessionID string, eventType EventType, payload map[string]interface{}) AutomationEvent {
	return AutomationEvent{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
