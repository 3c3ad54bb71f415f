package events

import (
	"time"

	"github.com/openflix/catalog-service/internal/types"
)

// Publisher interface for publishing events
type Publisher interface {
	PublishUploadProgress(actorID, sessionID string, receivedChunks, totalChunks int)
	PublishUploadFinalized(actorID, sessionID, objectKey string, size int64)
	PublishSeasonReordered(actorID, seasonID string, episodes int)
}

// EventPublisher implements the Publisher interface
type EventPublisher struct {
	hub WebSocketHub
}

// WebSocketHub interface for the WebSocket hub
type WebSocketHub interface {
	BroadcastToActor(actorID string, event *types.Event)
	IsActorConnected(actorID string) bool
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(hub WebSocketHub) *EventPublisher {
	return &EventPublisher{
		hub: hub,
	}
}

// PublishUploadProgress notifies the uploading actor after an accepted chunk.
// The original admin UI polled for this; connected clients get it pushed.
func (p *EventPublisher) PublishUploadProgress(actorID, sessionID string, receivedChunks, totalChunks int) {
	if !p.hub.IsActorConnected(actorID) {
		return
	}

	eventData := &types.UploadProgressEvent{
		SessionID:      sessionID,
		ReceivedChunks: receivedChunks,
		TotalChunks:    totalChunks,
	}

	p.hub.BroadcastToActor(actorID, types.NewEvent(types.EventUploadProgress, eventData))
}

// PublishUploadFinalized notifies the uploading actor that the assembled
// object is durable and carries the storage reference to attach.
func (p *EventPublisher) PublishUploadFinalized(actorID, sessionID, objectKey string, size int64) {
	if !p.hub.IsActorConnected(actorID) {
		return
	}

	eventData := &types.UploadFinalizedEvent{
		SessionID:   sessionID,
		ObjectKey:   objectKey,
		Size:        size,
		FinalizedAt: time.Now().UTC().Format(time.RFC3339),
	}

	p.hub.BroadcastToActor(actorID, types.NewEvent(types.EventUploadFinalized, eventData))
}

// PublishSeasonReordered notifies the acting editor that a bulk reorder
// committed.
func (p *EventPublisher) PublishSeasonReordered(actorID, seasonID string, episodes int) {
	if !p.hub.IsActorConnected(actorID) {
		return
	}

	eventData := &types.SeasonReorderedEvent{
		SeasonID:    seasonID,
		Episodes:    episodes,
		ReorderedAt: time.Now().UTC().Format(time.RFC3339),
	}

	p.hub.BroadcastToActor(actorID, types.NewEvent(types.EventSeasonReordered, eventData))
}
