package notifications

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"glimmer/internal/observability"
)

const (
	// presenceOnlineSetKey holds the IDs of users considered online anywhere
	// in the cluster. Shared across server instances through Redis.
	presenceOnlineSetKey = "presence:online"
	// presenceSeenKeyPrefix namespaces the per-user heartbeat keys whose TTL
	// drives staleness detection.
	presenceSeenKeyPrefix = "presence:seen:"

	defaultPresenceSeenTTL = 90 * time.Second
	defaultOfflineGrace    = 5 * time.Second
	defaultReapInterval    = 60 * time.Second
)

// PresenceOptions tunes heartbeat TTLs and sweep cadence. Zero values take
// the defaults.
type PresenceOptions struct {
	SeenTTL      time.Duration
	OfflineGrace time.Duration
	ReapInterval time.Duration
}

// PresenceTracker keeps cluster-wide user presence in Redis while counting
// local websocket devices in memory. A user flips offline only after the
// grace period expires with no reconnect, so brief drops (page reloads,
// network blips) never surface as offline/online churn in conversations.
type PresenceTracker struct {
	rdb *redis.Client

	mu          sync.RWMutex
	localConns  map[uint]int
	graceTimers map[uint]*time.Timer
	offlineSent map[uint]bool

	seenTTL      time.Duration
	offlineGrace time.Duration
	reapInterval time.Duration

	onOnline  func(userID uint)
	onOffline func(userID uint)

	stopCh   chan struct{}
	stopOnce sync.Once
	reaperWG sync.WaitGroup
}

// NewPresenceTracker builds a tracker backed by rdb. A nil client degrades
// to local-only tracking, which is what the test servers run with.
func NewPresenceTracker(rdb *redis.Client, opts PresenceOptions) *PresenceTracker {
	if opts.SeenTTL <= 0 {
		opts.SeenTTL = defaultPresenceSeenTTL
	}
	if opts.OfflineGrace <= 0 {
		opts.OfflineGrace = defaultOfflineGrace
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}

	p := &PresenceTracker{
		rdb:          rdb,
		localConns:   make(map[uint]int),
		graceTimers:  make(map[uint]*time.Timer),
		offlineSent:  make(map[uint]bool),
		seenTTL:      opts.SeenTTL,
		offlineGrace: opts.OfflineGrace,
		reapInterval: opts.ReapInterval,
		stopCh:       make(chan struct{}),
	}

	if p.rdb != nil {
		p.reaperWG.Add(1)
		go p.reapLoop()
	}

	return p
}

// SetCallbacks installs the hooks fired on online/offline transitions.
// Callbacks run outside the tracker's lock.
func (p *PresenceTracker) SetCallbacks(onOnline, onOffline func(userID uint)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOnline = onOnline
	p.onOffline = onOffline
}

// SetOfflineGracePeriod overrides the disconnect grace window.
func (p *PresenceTracker) SetOfflineGracePeriod(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offlineGrace = d
}

// Stop halts the background sweeper.
func (p *PresenceTracker) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.reaperWG.Wait()
}

// Register records a new device for userID. The first device of a user who
// was not already online fires the online transition; a reconnect inside
// the grace window just cancels the pending offline.
func (p *PresenceTracker) Register(ctx context.Context, userID uint) {
	alreadyOnline := p.remoteOnline(ctx, userID)

	p.mu.Lock()
	p.localConns[userID]++
	firstDevice := p.localConns[userID] == 1
	if t, ok := p.graceTimers[userID]; ok {
		t.Stop()
		delete(p.graceTimers, userID)
		alreadyOnline = true
	}
	p.offlineSent[userID] = false
	p.mu.Unlock()

	p.touchRedis(ctx, userID)

	if firstDevice && !alreadyOnline {
		p.emitOnline(userID)
	}
}

// Heartbeat refreshes the user's seen key. Called on every inbound frame so
// an idle-but-connected client never goes stale.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID uint) {
	p.touchRedis(ctx, userID)
}

// Unregister drops one device. When the last device goes, the offline
// transition is deferred by the grace window to absorb reconnects.
func (p *PresenceTracker) Unregister(ctx context.Context, userID uint) {
	p.mu.Lock()
	if p.localConns[userID] > 0 {
		p.localConns[userID]--
	}
	if p.localConns[userID] > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.localConns, userID)

	grace := p.offlineGrace
	if t, ok := p.graceTimers[userID]; ok {
		t.Stop()
	}
	p.graceTimers[userID] = time.AfterFunc(grace, func() {
		p.confirmOffline(context.Background(), userID)
	})
	p.mu.Unlock()
}

// confirmOffline runs when the grace window elapses without a reconnect.
func (p *PresenceTracker) confirmOffline(ctx context.Context, userID uint) {
	p.mu.Lock()
	delete(p.graceTimers, userID)
	if p.localConns[userID] > 0 || p.offlineSent[userID] {
		p.mu.Unlock()
		return
	}
	p.offlineSent[userID] = true
	p.mu.Unlock()

	if p.rdb != nil {
		idStr := strconv.FormatUint(uint64(userID), 10)
		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, idStr).Err()
		_ = p.rdb.Del(ctx, presenceSeenKey(userID)).Err()
	}

	p.emitOffline(userID)
}

// IsOnline reports cluster-wide presence when Redis is available, falling
// back to local device counts otherwise.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	if p.rdb != nil {
		idStr := strconv.FormatUint(uint64(userID), 10)
		online, err := p.rdb.SIsMember(ctx, presenceOnlineSetKey, idStr).Result()
		if err == nil {
			return online
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localConns[userID] > 0
}

// OnlineIDs returns every user considered online, merging the Redis set
// with users connected to this instance. Stale Redis members are pruned
// along the way.
func (p *PresenceTracker) OnlineIDs(ctx context.Context) []uint {
	seen := make(map[uint]struct{})
	if p.rdb != nil {
		for _, id := range p.sweepOnlineSet(ctx, nil) {
			seen[id] = struct{}{}
		}
	}
	p.mu.RLock()
	for id, n := range p.localConns {
		if n > 0 {
			seen[id] = struct{}{}
		}
	}
	p.mu.RUnlock()

	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// reapOnce prunes users whose seen key expired, which happens when a server
// instance dies without unregistering its connections. Users still connected
// locally are kept regardless of Redis state.
func (p *PresenceTracker) reapOnce(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	p.sweepOnlineSet(ctx, func(userID uint) {
		p.mu.Lock()
		if p.localConns[userID] > 0 || p.offlineSent[userID] {
			p.mu.Unlock()
			return
		}
		p.offlineSent[userID] = true
		p.mu.Unlock()
		p.emitOffline(userID)
	})
}

// sweepOnlineSet walks the Redis online set, removing members whose seen
// key has expired. It returns the members still alive; onStale, when
// non-nil, observes each pruned user.
func (p *PresenceTracker) sweepOnlineSet(ctx context.Context, onStale func(userID uint)) []uint {
	members, err := p.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return nil
	}

	live := make([]uint, 0, len(members))
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			_ = p.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()
			continue
		}
		userID := uint(id64)

		alive, existsErr := p.rdb.Exists(ctx, presenceSeenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if alive > 0 {
			live = append(live, userID)
			continue
		}

		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()
		if onStale != nil {
			onStale(userID)
		}
	}
	return live
}

func (p *PresenceTracker) reapLoop() {
	defer p.reaperWG.Done()
	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(context.Background())
		}
	}
}

func (p *PresenceTracker) touchRedis(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	idStr := strconv.FormatUint(uint64(userID), 10)
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, presenceOnlineSetKey, idStr)
	pipe.Set(ctx, presenceSeenKey(userID), time.Now().Unix(), p.seenTTL)
	_, _ = pipe.Exec(ctx)
}

func (p *PresenceTracker) emitOnline(userID uint) {
	observability.PresenceTransitions.WithLabelValues("online").Inc()
	p.mu.RLock()
	cb := p.onOnline
	p.mu.RUnlock()
	if cb != nil {
		cb(userID)
	}
}

func (p *PresenceTracker) emitOffline(userID uint) {
	observability.PresenceTransitions.WithLabelValues("offline").Inc()
	p.mu.RLock()
	cb := p.onOffline
	p.mu.RUnlock()
	if cb != nil {
		cb(userID)
	}
}

// remoteOnline reports whether another instance already counts the user as
// online, so a second device elsewhere does not re-announce them.
func (p *PresenceTracker) remoteOnline(ctx context.Context, userID uint) bool {
	if p.rdb == nil {
		return false
	}
	idStr := strconv.FormatUint(uint64(userID), 10)
	online, err := p.rdb.SIsMember(ctx, presenceOnlineSetKey, idStr).Result()
	return err == nil && online
}

func presenceSeenKey(userID uint) string {
	return presenceSeenKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
