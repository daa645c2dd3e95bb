package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"studyroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceOnlineSetKey  = "presence:online_users"
	defaultPresenceLastSeenKeyNS = "presence:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultOfflineGrace          = 5 * time.Second
	defaultReaperInterval        = 60 * time.Second
)

// PresenceTrackerConfig controls Redis presence and cleanup behavior.
type PresenceTrackerConfig struct {
	OnlineSetKey       string
	LastSeenKeyPrefix  string
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
	OnUserOnline       func(userID uint)
	OnUserOffline      func(userID uint)
}

// PresenceTracker tracks connected users, mirrors presence in Redis so every
// instance sees the same picture, and emits online/offline transitions with
// an offline grace window. Presence never touches the database; when Redis
// is gone the state is simply rebuilt from live connections.
type PresenceTracker struct {
	rdb *redis.Client

	mu              sync.RWMutex
	localConnCounts map[uint]int
	offlineTimers   map[uint]*time.Timer
	offlineNotified map[uint]bool

	onlineSetKey      string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	offlineGrace      time.Duration
	reaperInterval    time.Duration

	onUserOnline  func(userID uint)
	onUserOffline func(userID uint)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresenceTracker creates a tracker and starts a Redis reaper when Redis
// is available.
func NewPresenceTracker(rdb *redis.Client, cfg PresenceTrackerConfig) *PresenceTracker {
	t := &PresenceTracker{
		rdb:               rdb,
		localConnCounts:   make(map[uint]int),
		offlineTimers:     make(map[uint]*time.Timer),
		offlineNotified:   make(map[uint]bool),
		onlineSetKey:      defaultPresenceOnlineSetKey,
		lastSeenKeyPrefix: defaultPresenceLastSeenKeyNS,
		lastSeenTTL:       defaultPresenceTTL,
		offlineGrace:      defaultOfflineGrace,
		reaperInterval:    defaultReaperInterval,
		onUserOnline:      cfg.OnUserOnline,
		onUserOffline:     cfg.OnUserOffline,
		stopCh:            make(chan struct{}),
	}

	if cfg.OnlineSetKey != "" {
		t.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		t.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		t.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.OfflineGracePeriod > 0 {
		t.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		t.reaperInterval = cfg.ReaperInterval
	}

	if t.rdb != nil && t.reaperInterval > 0 {
		go t.reaperLoop()
	}

	return t
}

// SetCallbacks replaces the online/offline transition callbacks.
func (t *PresenceTracker) SetCallbacks(onOnline, onOffline func(userID uint)) {
	t.mu.Lock()
	t.onUserOnline = onOnline
	t.onUserOffline = onOffline
	t.mu.Unlock()
}

// SetOfflineGracePeriod overrides the window a user stays online after their
// last connection drops. Brief reconnects inside the window emit nothing.
func (t *PresenceTracker) SetOfflineGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.offlineGrace = d
	t.mu.Unlock()
}

// Stop halts the reaper and cancels pending offline timers.
func (t *PresenceTracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		for userID, timer := range t.offlineTimers {
			if timer != nil {
				timer.Stop()
			}
			delete(t.offlineTimers, userID)
		}
		t.mu.Unlock()
	})
}

// Register records a new connection for the user. The first connection
// across all instances emits an online transition.
func (t *PresenceTracker) Register(ctx context.Context, userID uint) {
	wasOnline := t.IsOnline(ctx, userID)

	t.mu.Lock()
	if timer, ok := t.offlineTimers[userID]; ok {
		timer.Stop()
		delete(t.offlineTimers, userID)
	}
	t.localConnCounts[userID]++
	t.offlineNotified[userID] = false
	t.mu.Unlock()

	t.Touch(ctx, userID)
	if !wasOnline {
		t.emitOnline(userID)
	}
}

// Touch refreshes the user's Redis presence footprint. Called on register
// and periodically from connection heartbeats.
func (t *PresenceTracker) Touch(ctx context.Context, userID uint) {
	if t.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := t.rdb.SAdd(ctx, t.onlineSetKey, uid).Err(); err != nil {
		log.Printf("presence touch SADD failed for user %d: %v", userID, err)
	}
	if err := t.rdb.SetEx(ctx, t.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), t.lastSeenTTL).Err(); err != nil {
		log.Printf("presence touch SETEX failed for user %d: %v", userID, err)
	}
}

// Unregister records a dropped connection. The offline transition only fires
// after the grace window expires without a reconnect.
func (t *PresenceTracker) Unregister(ctx context.Context, userID uint) {
	t.mu.Lock()
	if n, ok := t.localConnCounts[userID]; ok {
		n--
		if n > 0 {
			t.localConnCounts[userID] = n
			t.mu.Unlock()
			return
		}
		delete(t.localConnCounts, userID)
	}

	if timer, ok := t.offlineTimers[userID]; ok {
		timer.Stop()
	}
	grace := t.offlineGrace
	t.offlineTimers[userID] = time.AfterFunc(grace, func() {
		t.finalizeOffline(context.Background(), userID)
	})
	t.mu.Unlock()
}

// IsOnline reports whether the user is online anywhere: locally, or via a
// fresh Redis footprint written by another instance.
func (t *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	t.mu.RLock()
	if t.localConnCounts[userID] > 0 {
		t.mu.RUnlock()
		return true
	}
	t.mu.RUnlock()

	if t.rdb == nil {
		return false
	}

	exists, err := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// OnlineUserIDs returns online user IDs from Redis (with stale filtering),
// unioned with local connections as a fallback safety net.
func (t *PresenceTracker) OnlineUserIDs(ctx context.Context) []uint {
	local := t.localUserIDs()
	if t.rdb == nil {
		return local
	}

	members, err := t.rdb.SMembers(ctx, t.onlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[uint]struct{}, len(members)+len(local))
	result := make([]uint, 0, len(members)+len(local))

	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = t.rdb.SRem(ctx, t.onlineSetKey, raw).Err()
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}

	for _, userID := range local {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}

	return result
}

// FilterOnline returns the subset of userIDs currently online. Room presence
// is derived by filtering the room's participants through this, so presence
// stays decoupled from durable membership.
func (t *PresenceTracker) FilterOnline(ctx context.Context, userIDs []uint) []uint {
	online := make([]uint, 0, len(userIDs))
	for _, userID := range userIDs {
		if t.IsOnline(ctx, userID) {
			online = append(online, userID)
		}
	}
	return online
}

// reapOnce is test-visible and performs one cleanup pass over stale entries
// left behind by crashed instances.
func (t *PresenceTracker) reapOnce(ctx context.Context) {
	if t.rdb == nil {
		return
	}

	members, err := t.rdb.SMembers(ctx, t.onlineSetKey).Result()
	if err != nil {
		return
	}

	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists > 0 {
			continue
		}

		_ = t.rdb.SRem(ctx, t.onlineSetKey, raw).Err()

		t.mu.RLock()
		hasLocal := t.localConnCounts[userID] > 0
		t.mu.RUnlock()
		if !hasLocal {
			t.emitOffline(userID)
		}
	}
}

func (t *PresenceTracker) reaperLoop() {
	interval := t.reaperInterval
	if interval <= 0 {
		return
	}
	ctx := context.Background()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.reapOnce(ctx)
		}
	}
}

func (t *PresenceTracker) finalizeOffline(ctx context.Context, userID uint) {
	t.mu.Lock()
	if t.localConnCounts[userID] > 0 {
		delete(t.offlineTimers, userID)
		t.mu.Unlock()
		return
	}
	delete(t.offlineTimers, userID)
	t.mu.Unlock()

	if t.rdb != nil {
		exists, err := t.rdb.Exists(ctx, t.lastSeenKey(userID)).Result()
		if err == nil && exists > 0 {
			// Another instance likely refreshed presence. Keep user online.
			return
		}
		_ = t.rdb.SRem(ctx, t.onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
	}

	t.emitOffline(userID)
}

func (t *PresenceTracker) emitOnline(userID uint) {
	t.mu.Lock()
	t.offlineNotified[userID] = false
	cb := t.onUserOnline
	t.mu.Unlock()

	observability.PresenceTransitions.WithLabelValues("online").Inc()
	if cb != nil {
		cb(userID)
	}
}

func (t *PresenceTracker) emitOffline(userID uint) {
	t.mu.Lock()
	if t.offlineNotified[userID] {
		t.mu.Unlock()
		return
	}
	t.offlineNotified[userID] = true
	cb := t.onUserOffline
	t.mu.Unlock()

	observability.PresenceTransitions.WithLabelValues("offline").Inc()
	if cb != nil {
		cb(userID)
	}
}

func (t *PresenceTracker) localUserIDs() []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint, 0, len(t.localConnCounts))
	for userID, count := range t.localConnCounts {
		if count > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (t *PresenceTracker) lastSeenKey(userID uint) string {
	return t.lastSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
