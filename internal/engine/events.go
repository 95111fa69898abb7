package engine

import (
	"time"

	"Urban-Render/server/internal/models"
)

const (
	EventStateUpdated    = "state.updated"
	EventRenderStarted   = "render.started"
	EventRenderCompleted = "render.completed"
	EventRenderFailed    = "render.failed"
)

// Event is pushed to the clients watching a session
type Event struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	State     *models.RenderingState `json:"state,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Time      int64                  `json:"time"`
}

// EventPublisher fans session events out to subscribers
type EventPublisher interface {
	Publish(sessionID string, evt Event)
}

func newEvent(typ string, state *models.RenderingState) Event {
	evt := Event{
		Type:      typ,
		SessionID: state.SessionID,
		State:     state,
		Time:      time.Now().Unix(),
	}
	if typ == EventRenderFailed {
		evt.Error = state.Error
	}
	return evt
}
