package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	ctx := context.Background()

	assert.NoError(t, n.PublishRoomMessage(ctx, 1, "payload"))
	assert.NoError(t, n.PublishPresence(ctx, 1, 2, "online"))
	assert.NoError(t, n.PublishParticipant(ctx, 1, 2, "joined"))
	assert.NoError(t, n.PublishCall(ctx, 1, 2, "started"))
	assert.NoError(t, n.StartRoomSubscriber(ctx, func(string, string) {}))
}

func TestRoomChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		roomID   uint
		expected string
	}{
		{1, "chat:room:1"},
		{100, "chat:room:100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RoomChannel(tt.roomID))
	}
}

func TestNotifier_RoomSubscriberReceivesAllPatterns(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Int32
	require.NoError(t, n.StartRoomSubscriber(ctx, func(channel, payload string) {
		received.Add(1)
	}))

	assert.Eventually(t, func() bool {
		_ = n.PublishRoomMessage(ctx, 5, `{"type":"message"}`)
		_ = n.PublishPresence(ctx, 5, 1, "online")
		_ = n.PublishParticipant(ctx, 5, 1, "joined")
		_ = n.PublishCall(ctx, 5, 1, "started")
		return received.Load() >= 4
	}, 2*time.Second, 50*time.Millisecond)
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())

	var received atomic.Int32
	require.NoError(t, n.StartRoomSubscriber(ctx, func(string, string) {
		received.Add(1)
	}))

	cancel()
	time.Sleep(50 * time.Millisecond)
	before := received.Load()

	_ = n.PublishRoomMessage(context.Background(), 5, "late")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, received.Load())
}
