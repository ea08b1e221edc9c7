// Package events defines the host-to-renderer notifications and the
// publishers that deliver them.
package events

import (
	"encoding/json"
	"time"
)

// Actions the host sends to the renderer.
const (
	ActionAbout       = "about"
	ActionHelp        = "help"
	ActionReady       = "ready"
	ActionUserCreated = "user.created"
)

// AppAction is one notification pushed from host to renderer.
type AppAction struct {
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewAppAction builds an event stamped with the current time. A payload that
// cannot be encoded is dropped.
func NewAppAction(action string, payload any) *AppAction {
	ev := &AppAction{Action: action, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}
