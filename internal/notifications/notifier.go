// Package notifications provides real-time event delivery for chat rooms.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Notifier provides helpers to publish room events into Redis channels so
// that every server instance can fan them out to its local connections. A
// nil Redis client degrades to a no-op; single-instance deployments then
// rely on local broadcast only.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishRoomMessage publishes a chat message event to a room channel.
func (n *Notifier) PublishRoomMessage(ctx context.Context, roomID uint, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, RoomChannel(roomID), payload).Err()
}

// PublishPresence publishes a user's presence status to a room.
func (n *Notifier) PublishPresence(
	ctx context.Context, roomID, userID uint, status string,
) error {
	if n.rdb == nil {
		return nil
	}
	channel := fmt.Sprintf("presence:room:%d", roomID)
	payload := map[string]interface{}{
		"user_id": userID,
		"status":  status, // "online", "offline"
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, string(payloadJSON)).Err()
}

// PublishParticipant publishes a membership change (join, leave) to a room.
func (n *Notifier) PublishParticipant(
	ctx context.Context, roomID, userID uint, action string,
) error {
	if n.rdb == nil {
		return nil
	}
	channel := fmt.Sprintf("participant:room:%d", roomID)
	payload := map[string]interface{}{
		"user_id": userID,
		"action":  action, // "joined", "left"
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, string(payloadJSON)).Err()
}

// PublishCall publishes a video-call lifecycle event to a room.
func (n *Notifier) PublishCall(
	ctx context.Context, roomID, userID uint, status string,
) error {
	if n.rdb == nil {
		return nil
	}
	channel := fmt.Sprintf("call:room:%d", roomID)
	payload := map[string]interface{}{
		"user_id": userID,
		"status":  status, // "started", "ended"
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.rdb.Publish(ctx, channel, string(payloadJSON)).Err()
}

// StartRoomSubscriber subscribes to room-related patterns and calls onMessage
// for each incoming message. Subscribes to: chat:room:*, presence:room:*,
// participant:room:*, call:room:*
func (n *Notifier) StartRoomSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "chat:room:*", "presence:room:*", "participant:room:*", "call:room:*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in RoomSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// RoomChannel derives the Redis channel name for a room's chat messages.
func RoomChannel(roomID uint) string {
	return "chat:room:" + strconv.FormatUint(uint64(roomID), 10)
}
