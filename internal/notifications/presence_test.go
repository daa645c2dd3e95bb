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

func presenceWithRedis(t *testing.T, cfg PresenceTrackerConfig) (*PresenceTracker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tracker := NewPresenceTracker(rdb, cfg)
	t.Cleanup(tracker.Stop)
	return tracker, mr
}

func TestPresenceTracker_RegisterMarksOnline(t *testing.T) {
	tracker, _ := presenceWithRedis(t, PresenceTrackerConfig{})
	ctx := context.Background()

	assert.False(t, tracker.IsOnline(ctx, 1))
	tracker.Register(ctx, 1)
	assert.True(t, tracker.IsOnline(ctx, 1))
	assert.Equal(t, []uint{1}, tracker.OnlineUserIDs(ctx))
}

func TestPresenceTracker_OfflineAfterGrace(t *testing.T) {
	var offline atomic.Int32
	tracker, _ := presenceWithRedis(t, PresenceTrackerConfig{
		OfflineGracePeriod: 20 * time.Millisecond,
		LastSeenTTL:        time.Second,
		OnUserOffline:      func(uint) { offline.Add(1) },
	})
	ctx := context.Background()

	tracker.Register(ctx, 1)
	tracker.Unregister(ctx, 1)

	// Redis footprint still fresh, so the grace timer keeps the user online.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), offline.Load())
}

func TestPresenceTracker_OfflineAfterGraceAndExpiry(t *testing.T) {
	var offline atomic.Int32
	tracker, mr := presenceWithRedis(t, PresenceTrackerConfig{
		OfflineGracePeriod: 20 * time.Millisecond,
		LastSeenTTL:        time.Second,
		OnUserOffline:      func(uint) { offline.Add(1) },
	})
	ctx := context.Background()

	tracker.Register(ctx, 1)
	tracker.Unregister(ctx, 1)
	mr.FastForward(2 * time.Second)

	assert.Eventually(t, func() bool {
		return offline.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.False(t, tracker.IsOnline(ctx, 1))
}

func TestPresenceTracker_ReconnectWithinGraceEmitsNothing(t *testing.T) {
	var offline atomic.Int32
	tracker, _ := presenceWithRedis(t, PresenceTrackerConfig{
		OfflineGracePeriod: 50 * time.Millisecond,
		OnUserOffline:      func(uint) { offline.Add(1) },
	})
	ctx := context.Background()

	tracker.Register(ctx, 1)
	tracker.Unregister(ctx, 1)
	tracker.Register(ctx, 1)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), offline.Load())
	assert.True(t, tracker.IsOnline(ctx, 1))
}

func TestPresenceTracker_MultiDeviceCountsConnections(t *testing.T) {
	var offline atomic.Int32
	tracker, mr := presenceWithRedis(t, PresenceTrackerConfig{
		OfflineGracePeriod: 20 * time.Millisecond,
		LastSeenTTL:        time.Second,
		OnUserOffline:      func(uint) { offline.Add(1) },
	})
	ctx := context.Background()

	tracker.Register(ctx, 1)
	tracker.Register(ctx, 1)

	tracker.Unregister(ctx, 1)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, tracker.IsOnline(ctx, 1), "one device still connected")
	assert.Equal(t, int32(0), offline.Load())

	tracker.Unregister(ctx, 1)
	mr.FastForward(2 * time.Second)
	assert.Eventually(t, func() bool {
		return offline.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPresenceTracker_OnlineCallbackOncePerTransition(t *testing.T) {
	var online atomic.Int32
	tracker, _ := presenceWithRedis(t, PresenceTrackerConfig{
		OnUserOnline: func(uint) { online.Add(1) },
	})
	ctx := context.Background()

	tracker.Register(ctx, 1)
	tracker.Register(ctx, 1)

	assert.Equal(t, int32(1), online.Load())
}

func TestPresenceTracker_ReapOnceRemovesStaleEntries(t *testing.T) {
	var offline atomic.Int32
	tracker, mr := presenceWithRedis(t, PresenceTrackerConfig{
		LastSeenTTL:   time.Second,
		OnUserOffline: func(uint) { offline.Add(1) },
	})
	ctx := context.Background()

	// Simulate another instance that crashed after touching presence.
	mr.SAdd(defaultPresenceOnlineSetKey, "42")

	tracker.reapOnce(ctx)
	assert.Equal(t, int32(1), offline.Load())
	assert.NotContains(t, tracker.OnlineUserIDs(ctx), uint(42))
}

func TestPresenceTracker_NilRedisDegrades(t *testing.T) {
	tracker := NewPresenceTracker(nil, PresenceTrackerConfig{})
	defer tracker.Stop()
	ctx := context.Background()

	tracker.Register(ctx, 1)
	assert.True(t, tracker.IsOnline(ctx, 1))
	assert.Equal(t, []uint{1}, tracker.OnlineUserIDs(ctx))
}
