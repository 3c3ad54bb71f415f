package types

import "time"

// EventType represents the type of real-time event
type EventType string

const (
	EventUploadProgress  EventType = "upload.progress"
	EventUploadFinalized EventType = "upload.finalized"
	EventSeasonReordered EventType = "season.reordered"
)

// Event represents a real-time event that can be sent over WebSocket
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// UploadProgressEvent is sent to the uploading actor after each accepted chunk.
type UploadProgressEvent struct {
	SessionID      string `json:"session_id"`
	ReceivedChunks int    `json:"received_chunks"`
	TotalChunks    int    `json:"total_chunks"`
}

// UploadFinalizedEvent is sent once the assembled object is durable.
type UploadFinalizedEvent struct {
	SessionID   string `json:"session_id"`
	ObjectKey   string `json:"object_key"`
	Size        int64  `json:"size"`
	FinalizedAt string `json:"finalized_at"`
}

// SeasonReorderedEvent is sent after a bulk reorder commits.
type SeasonReorderedEvent struct {
	SeasonID    string `json:"season_id"`
	Episodes    int    `json:"episodes"`
	ReorderedAt string `json:"reordered_at"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
