package websocket

import (
	"log/slog"
	"sync"

	"github.com/openflix/catalog-service/internal/types"
)

// Hub maintains the set of connected admin clients and pushes upload and
// reorder events to them. One connection per actor; a new connection
// replaces the old one.
type Hub struct {
	// Registered clients mapped by actor ID
	clients map[string]*Client

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Channel to broadcast events
	broadcast chan *broadcastMessage
}

type broadcastMessage struct {
	ActorID string
	Event   *types.Event
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if existingClient, exists := h.clients[client.actorID]; exists {
				close(existingClient.send)
				slog.Info("Replaced existing WebSocket connection", slog.String("actor_id", client.actorID))
			}
			h.clients[client.actorID] = client
			h.mu.Unlock()
			slog.Info("WebSocket client connected", slog.String("actor_id", client.actorID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.actorID]; ok {
				delete(h.clients, client.actorID)
				close(client.send)
				slog.Info("WebSocket client disconnected", slog.String("actor_id", client.actorID))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.sendToActor(message.ActorID, message.Event)
		}
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient unregisters a client
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// BroadcastToActor sends an event to a specific actor
func (h *Hub) BroadcastToActor(actorID string, event *types.Event) {
	message := &broadcastMessage{
		ActorID: actorID,
		Event:   event,
	}

	select {
	case h.broadcast <- message:
	default:
		slog.Warn("Broadcast channel is full, dropping message")
	}
}

func (h *Hub) sendToActor(actorID string, event *types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[actorID]
	if !ok {
		return
	}

	if err := client.SendEvent(event); err != nil {
		slog.Error("Failed to send event to client",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()))
		// Remove the client if sending fails
		go func(c *Client) {
			h.unregister <- c
		}(client)
	}
}

// IsActorConnected checks if an actor is currently connected
func (h *Hub) IsActorConnected(actorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.clients[actorID]
	return exists
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
