// Package policy enforces the rate, concurrency, and size limits that keep
// one player's sound usage from degrading the experience for everyone else
// on the channel (spec §5).
package policy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bken/server/internal/verr"
)

// Process-wide caps (spec §5).
const (
	MaxAssetSizeBytes   = 5 * 1024 * 1024
	DownloadTimeout     = 2 * time.Minute
	MaxConcurrentDownloads = 4
	MaxBindingsPerPlayer   = 100
	AddCooldown            = 10 * time.Second
	PlayBurstLimit          = 5
	PlayCooldown            = 5 * time.Second
	PendingShareTTL         = 5 * time.Minute
)

// AddLimiter enforces the per-identity add-cooldown: one add request every
// AddCooldown, modeled as a single-token rate.Limiter per identity (spec
// §5). A plain token bucket fits this rule exactly, unlike the play policy
// below.
type AddLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAddLimiter returns an empty add-cooldown tracker.
func NewAddLimiter() *AddLimiter {
	return &AddLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether identity may add a sound right now, consuming the
// cooldown token if so.
func (a *AddLimiter) Allow(identity string) error {
	a.mu.Lock()
	lim, ok := a.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(rate.Every(AddCooldown), 1)
		a.limiters[identity] = lim
	}
	a.mu.Unlock()

	if !lim.Allow() {
		return verr.New(verr.CooldownActive, "wait before adding another sound")
	}
	return nil
}

// playWindow tracks one identity's burst-then-cooldown play state. This
// does not fit token-bucket semantics: after PlayBurstLimit requests in
// quick succession, the identity is locked out for a flat PlayCooldown
// rather than refilling gradually.
type playWindow struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

// PlayLimiter enforces the 5-request burst + 5s hard cooldown play policy.
type PlayLimiter struct {
	mu      sync.Mutex
	windows map[string]*playWindow
}

// NewPlayLimiter returns an empty play-burst tracker.
func NewPlayLimiter() *PlayLimiter {
	return &PlayLimiter{windows: make(map[string]*playWindow)}
}

// Allow reports whether identity may trigger a play right now. Once
// PlayBurstLimit plays have happened since the burst window opened, further
// attempts are rejected with the remaining lockout duration until
// PlayCooldown has fully elapsed.
func (p *PlayLimiter) Allow(identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	w, ok := p.windows[identity]
	if !ok {
		w = &playWindow{}
		p.windows[identity] = w
	}

	if now.Before(w.lockedUntil) {
		remaining := int(w.lockedUntil.Sub(now).Seconds()) + 1
		return verr.RateLimitedf(remaining)
	}

	if w.windowStart.IsZero() || now.Sub(w.windowStart) > PlayCooldown {
		w.windowStart = now
		w.count = 0
	}

	w.count++
	if w.count > PlayBurstLimit {
		w.lockedUntil = now.Add(PlayCooldown)
		return verr.RateLimitedf(int(PlayCooldown.Seconds()))
	}
	return nil
}

// pendingShareList is one client-slot's ordered view of its pending shares,
// as last presented by a Pending response.
type pendingShareList struct {
	shareIDs  []int64
	expiresAt time.Time
}

// PendingShareCache is a 5-minute LRU of (client-slot -> ordered shares),
// recorded whenever a slot lists its pending shares, so the client may
// later accept/reject by 1-based ordinal position rather than the database
// id (spec §3, §5: "pending-shares index cache ... indexed by serial
// position").
type PendingShareCache struct {
	mu      sync.Mutex
	entries map[uint32]pendingShareList
	order   []uint32
	maxSize int
}

// NewPendingShareCache returns an empty cache capped at maxSize slots.
func NewPendingShareCache(maxSize int) *PendingShareCache {
	return &PendingShareCache{
		entries: make(map[uint32]pendingShareList),
		maxSize: maxSize,
	}
}

// Put records slot's current ordered list of pending share ids, evicting
// the least recently listed slot if the cache is full.
func (c *PendingShareCache) Put(slot uint32, shareIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[slot]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, slot)
	} else {
		for i, s := range c.order {
			if s == slot {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.order = append(c.order, slot)
	}
	list := append([]int64(nil), shareIDs...)
	c.entries[slot] = pendingShareList{shareIDs: list, expiresAt: time.Now().Add(PendingShareTTL)}
}

// Resolve turns a 1-based ordinal position into the real database share id
// from slot's most recently cached pending list. It fails if the cache
// entry is missing, expired, or the ordinal is out of range.
func (c *PendingShareCache) Resolve(slot uint32, ordinal int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[slot]
	if !ok || time.Now().After(e.expiresAt) {
		return 0, false
	}
	if ordinal < 1 || ordinal > len(e.shareIDs) {
		return 0, false
	}
	return e.shareIDs[ordinal-1], true
}

// Remove drops slot's cached list, e.g. once one of its shares has been
// accepted or rejected and the remaining ordinals are stale.
func (c *PendingShareCache) Remove(slot uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, slot)
	for i, s := range c.order {
		if s == slot {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
