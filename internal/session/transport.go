package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"studyroom/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisTransport delivers room events straight from the Redis channels the
// server publishes on. It lets a session client live in a different process
// from the chat server without going through the WebSocket edge.
type RedisTransport struct {
	rdb *redis.Client
}

// NewRedisTransport returns a transport over the given Redis client.
func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

// wireEvent is the envelope shape published on chat:room:<id>. Presence,
// participant and call channels carry bare payload objects instead.
type wireEvent struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id"`
	RoomID  uint            `json:"room_id"`
	UserID  uint            `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

type barePayload struct {
	UserID uint   `json:"user_id"`
	Status string `json:"status"`
	Action string `json:"action"`
}

type redisSubscription struct {
	cancel context.CancelFunc
	sub    *redis.PubSub
}

func (s *redisSubscription) Close() error {
	s.cancel()
	return s.sub.Close()
}

// Subscribe listens on the room's event channels and decodes each frame into
// an Event. Decode failures are skipped; the stream must survive a bad
// frame.
func (t *RedisTransport) Subscribe(ctx context.Context, roomID uint, onEvent func(Event), onDown func(error)) (TransportSubscription, error) {
	if t.rdb == nil {
		return nil, fmt.Errorf("redis unavailable")
	}

	channels := []string{
		fmt.Sprintf("chat:room:%d", roomID),
		fmt.Sprintf("presence:room:%d", roomID),
		fmt.Sprintf("participant:room:%d", roomID),
		fmt.Sprintf("call:room:%d", roomID),
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := t.rdb.Subscribe(subCtx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe room %d: %w", roomID, err)
	}

	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					// Stream died underneath us rather than via Close.
					select {
					case <-subCtx.Done():
					default:
						if onDown != nil {
							onDown(fmt.Errorf("redis subscription lost for room %d", roomID))
						}
					}
					return
				}
				if event, err := decodeEvent(roomID, msg.Channel, msg.Payload); err == nil {
					onEvent(event)
				} else {
					log.Printf("RedisTransport: dropped frame on %s: %v", msg.Channel, err)
				}
			}
		}
	}()

	return &redisSubscription{cancel: cancel, sub: sub}, nil
}

func decodeEvent(roomID uint, channel, payload string) (Event, error) {
	switch {
	case strings.HasPrefix(channel, "chat:room:"):
		var wire wireEvent
		if err := json.Unmarshal([]byte(payload), &wire); err != nil {
			return Event{}, fmt.Errorf("decode envelope: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal(wire.Payload, &msg); err != nil {
			return Event{}, fmt.Errorf("decode message: %w", err)
		}
		return Event{
			Type:    EventMessage,
			EventID: wire.EventID,
			RoomID:  roomID,
			UserID:  msg.SenderID,
			Message: &msg,
		}, nil

	case strings.HasPrefix(channel, "presence:room:"):
		var bare barePayload
		if err := json.Unmarshal([]byte(payload), &bare); err != nil {
			return Event{}, fmt.Errorf("decode presence: %w", err)
		}
		return Event{Type: EventPresence, RoomID: roomID, UserID: bare.UserID, Status: bare.Status}, nil

	case strings.HasPrefix(channel, "participant:room:"):
		var bare barePayload
		if err := json.Unmarshal([]byte(payload), &bare); err != nil {
			return Event{}, fmt.Errorf("decode participant: %w", err)
		}
		return Event{Type: EventParticipant, RoomID: roomID, UserID: bare.UserID, Status: bare.Action}, nil

	case strings.HasPrefix(channel, "call:room:"):
		var bare barePayload
		if err := json.Unmarshal([]byte(payload), &bare); err != nil {
			return Event{}, fmt.Errorf("decode call: %w", err)
		}
		return Event{Type: EventCall, RoomID: roomID, UserID: bare.UserID, Status: bare.Status}, nil
	}
	return Event{}, fmt.Errorf("unknown channel %s", channel)
}
