// Package identity caches the authoritative (slot → player identity)
// mapping the engine trusts (spec §4.C, §3 Identity). Handlers must resolve
// identity through this cache rather than trusting any identity carried in
// an inbound packet, since multiple clients on one host may share the
// in-game-reported identity but have distinct slots.
package identity

import (
	"net"
	"sync"
	"time"
)

// Entry is one cached session.
type Entry struct {
	Slot       uint32
	Identity   string
	Addr       *net.UDPAddr
	Team       string // team/global affiliation as last reported by the game server
	lastActive time.Time
}

// Cache is a slot-keyed identity cache with idle eviction. Safe for
// concurrent use; the engine runs single-threaded but the transport layer's
// receive loop and the maintenance tick both touch it.
type Cache struct {
	mu          sync.RWMutex
	bySlot      map[uint32]*Entry
	idleTimeout time.Duration
}

// NewCache builds a cache that evicts entries idle longer than idleTimeout.
func NewCache(idleTimeout time.Duration) *Cache {
	return &Cache{
		bySlot:      make(map[uint32]*Entry),
		idleTimeout: idleTimeout,
	}
}

// Authenticate records (or refreshes) the authoritative identity for a slot,
// as established by the one-time registration/handshake flow.
func (c *Cache) Authenticate(slot uint32, id string, addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.bySlot[slot]
	if !ok {
		e = &Entry{Slot: slot}
		c.bySlot[slot] = e
	}
	e.Identity = id
	e.Addr = addr
	e.lastActive = time.Now()
}

// Touch refreshes the last-activity time for a slot without changing
// identity. No-op if the slot isn't cached.
func (c *Cache) Touch(slot uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.bySlot[slot]; ok {
		e.lastActive = time.Now()
	}
}

// SetTeam updates the team/global affiliation for a slot. This is the only
// other write path besides the handshake (spec §5 shared-resource policy);
// no opcode handler calls it.
func (c *Cache) SetTeam(slot uint32, team string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.bySlot[slot]; ok {
		e.Team = team
	}
}

// Lookup returns the authoritative identity for slot. ok is false if no
// entry is cached (the caller should surface verr.NotAuthenticated).
func (c *Cache) Lookup(slot uint32) (identity string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.bySlot[slot]
	if !found {
		return "", false
	}
	return e.Identity, true
}

// Entry returns a copy of the cached entry for slot, if any.
func (c *Cache) Entry(slot uint32) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.bySlot[slot]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove drops a slot's cached entry (e.g. on disconnect).
func (c *Cache) Remove(slot uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bySlot, slot)
}

// SlotForAddr finds the slot currently bound to addr, if any, by scanning
// every cached entry. The transport layer does not call it: inbound
// datagrams carry their slot in the packet header.
func (c *Cache) SlotForAddr(addr *net.UDPAddr) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for slot, e := range c.bySlot {
		if e.Addr != nil && e.Addr.String() == addr.String() {
			return slot, true
		}
	}
	return 0, false
}

// SlotsForTeam returns every slot currently reporting team affiliation team.
func (c *Cache) SlotsForTeam(team string) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var slots []uint32
	for slot, e := range c.bySlot {
		if e.Team == team {
			slots = append(slots, slot)
		}
	}
	return slots
}

// EvictIdle removes entries whose last activity predates the idle timeout.
// Returns the slots removed, so callers can release any per-slot state held
// elsewhere (playback ownership, rate buckets).
func (c *Cache) EvictIdle() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []uint32
	cutoff := time.Now().Add(-c.idleTimeout)
	for slot, e := range c.bySlot {
		if e.lastActive.Before(cutoff) {
			evicted = append(evicted, slot)
			delete(c.bySlot, slot)
		}
	}
	return evicted
}

// Len reports the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySlot)
}
