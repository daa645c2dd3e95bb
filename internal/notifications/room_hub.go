package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"studyroom/internal/observability"

	"github.com/gofiber/websocket/v2"
)

// RoomHub manages WebSocket connections for chat rooms. It is room-centric:
// a user subscribes to the rooms they are viewing, and events fan out per
// room rather than per user.
type RoomHub struct {
	mu sync.RWMutex

	// Map: roomID -> set of userIDs viewing the room
	rooms map[uint]map[uint]struct{}

	// Map: userID -> set of roomIDs they're actively viewing
	userRooms map[uint]map[uint]struct{}

	// Map: userID -> set of active Clients (multi-device support)
	userConns map[uint]map[*Client]bool

	presence *PresenceTracker
}

// Name returns a human-readable identifier for this hub.
func (h *RoomHub) Name() string { return "room hub" }

// RoomEvent is the envelope every websocket frame carries. EventID is unique
// per event so clients can drop redeliveries after a resubscribe.
type RoomEvent struct {
	Type    string      `json:"type"` // "message", "presence", "participant", "call", "room_closed"
	EventID string      `json:"event_id,omitempty"`
	RoomID  uint        `json:"room_id"`
	UserID  uint        `json:"user_id,omitempty"`
	Payload interface{} `json:"payload"`
}

// NewRoomHub creates a new RoomHub instance.
func NewRoomHub(presence *PresenceTracker) *RoomHub {
	return &RoomHub{
		rooms:     make(map[uint]map[uint]struct{}),
		userRooms: make(map[uint]map[uint]struct{}),
		userConns: make(map[uint]map[*Client]bool),
		presence:  presence,
	}
}

// Register registers a user's websocket connection. Returns Client or error
// if the per-user connection limit is exceeded.
func (h *RoomHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[*Client]bool)
	}
	if len(h.userConns[userID]) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, fmt.Errorf("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	h.userConns[userID][client] = true
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	if h.presence != nil {
		h.presence.Register(context.Background(), userID)
	}
	return client, nil
}

// UnregisterClient removes a user's websocket connection and, when it was
// the last one, cleans up all their room subscriptions.
func (h *RoomHub) UnregisterClient(client *Client) {
	h.mu.Lock()

	clients, ok := h.userConns[client.UserID]
	if !ok {
		// Client not found (already removed)
		h.mu.Unlock()
		return
	}
	if !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	observability.WebSocketConnectionsTotal.Dec()

	if len(clients) > 0 {
		// User still has other connections, just close this one.
		h.mu.Unlock()
		if h.presence != nil {
			h.presence.Unregister(context.Background(), client.UserID)
		}
		return
	}
	delete(h.userConns, client.UserID)

	// All connections for this user are gone, drop room subscriptions.
	if rooms, ok := h.userRooms[client.UserID]; ok {
		for roomID := range rooms {
			if users, ok := h.rooms[roomID]; ok {
				delete(users, client.UserID)
				observability.WebSocketRoomConnections.WithLabelValues(roomLabel(roomID)).Dec()
				if len(users) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		delete(h.userRooms, client.UserID)
	}
	h.mu.Unlock()

	if h.presence != nil {
		h.presence.Unregister(context.Background(), client.UserID)
	}
}

// IsUserOnline returns true when the user has at least one active websocket client.
func (h *RoomHub) IsUserOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.userConns[userID]
	return ok && len(clients) > 0
}

// JoinRoom subscribes a connected user to a room's events.
func (h *RoomHub) JoinRoom(userID, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.userConns[userID]; !ok {
		log.Printf("RoomHub: User %d not connected, cannot join room %d", userID, roomID)
		return
	}

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uint]struct{})
	}
	if _, already := h.rooms[roomID][userID]; !already {
		h.rooms[roomID][userID] = struct{}{}
		observability.WebSocketRoomConnections.WithLabelValues(roomLabel(roomID)).Inc()
	}

	if h.userRooms[userID] == nil {
		h.userRooms[userID] = make(map[uint]struct{})
	}
	h.userRooms[userID][roomID] = struct{}{}
}

// LeaveRoom unsubscribes a user from a room.
func (h *RoomHub) LeaveRoom(userID, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if users, ok := h.rooms[roomID]; ok {
		if _, present := users[userID]; present {
			delete(users, userID)
			observability.WebSocketRoomConnections.WithLabelValues(roomLabel(roomID)).Dec()
		}
		if len(users) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if rooms, ok := h.userRooms[userID]; ok {
		delete(rooms, roomID)
	}
}

// BroadcastToRoom sends an event to every connection of every user viewing
// the room.
func (h *RoomHub) BroadcastToRoom(roomID uint, event RoomEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users, ok := h.rooms[roomID]
	if !ok {
		return
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Printf("RoomHub: Failed to marshal event: %v", err)
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(event.Type).Inc()

	for userID := range users {
		if clients, ok := h.userConns[userID]; ok {
			for client := range clients {
				client.TrySend(eventJSON)
			}
		}
	}
}

// RoomViewers returns the userIDs currently viewing a room on this instance.
func (h *RoomHub) RoomViewers(roomID uint) []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users, ok := h.rooms[roomID]
	if !ok {
		return []uint{}
	}
	result := make([]uint, 0, len(users))
	for userID := range users {
		result = append(result, userID)
	}
	return result
}

// IsUserViewing checks if a user is currently subscribed to a room.
func (h *RoomHub) IsUserViewing(userID, roomID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if rooms, ok := h.userRooms[userID]; ok {
		_, viewing := rooms[roomID]
		return viewing
	}
	return false
}

// StartWiring connects the RoomHub to Redis pub/sub so events published by
// any instance reach this instance's local connections.
func (h *RoomHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartRoomSubscriber(ctx, func(channel, payload string) {
		var roomID uint
		var eventType string

		if _, err := fmt.Sscanf(channel, "chat:room:%d", &roomID); err == nil {
			eventType = "message"
		} else if _, err := fmt.Sscanf(channel, "presence:room:%d", &roomID); err == nil {
			eventType = "presence"
		} else if _, err := fmt.Sscanf(channel, "participant:room:%d", &roomID); err == nil {
			eventType = "participant"
		} else if _, err := fmt.Sscanf(channel, "call:room:%d", &roomID); err == nil {
			eventType = "call"
		} else {
			log.Printf("RoomHub: Invalid channel format: %s", channel)
			return
		}

		var event RoomEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Presence/participant payloads are bare objects published by
			// the Notifier helpers; wrap them.
			var raw json.RawMessage = []byte(payload)
			event = RoomEvent{Payload: raw}
		}
		if event.Type == "" {
			event.Type = eventType
		}
		event.RoomID = roomID

		h.BroadcastToRoom(roomID, event)
	})
}

// Shutdown gracefully closes all websocket connections.
func (h *RoomHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.userConns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"server_shutdown","payload":{"message":"Server is shutting down"}}`)); err != nil {
				log.Printf("failed to write shutdown message for user %d: %v", userID, err)
			}
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %d: %v", userID, err)
			}
		}
	}

	h.rooms = make(map[uint]map[uint]struct{})
	h.userRooms = make(map[uint]map[uint]struct{})
	h.userConns = make(map[uint]map[*Client]bool)

	return nil
}

func roomLabel(roomID uint) string {
	return strconv.FormatUint(uint64(roomID), 10)
}
