package model

import (
	"time"
)

// EventType represents the type of change feed event.
type EventType string

const (
	EventTypeMessageInserted EventType = "message.inserted"
)

// ChangeEvent is delivered by the change feed for one conversation.
type ChangeEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Message        Message   `json:"message"`
	PublishedAt    time.Time `json:"published_at"`
}

// ErrorEvent represents an error event on the local stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
