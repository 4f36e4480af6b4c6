// Package relay fans out audio-relay packets to every other connected
// player (spec §4.F). There is only one active asset stream for the whole
// service at a time, so a broadcast always reaches the whole roster, not
// just one team. Delivery is best-effort UDP: a slow or unreachable peer
// must never slow down or drop packets for everyone else, so each
// destination gets an independent circuit breaker.
package relay

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"bken/server/internal/wire"
)

// Circuit breaker tuning, grounded on the same per-peer failure/probe
// cadence the teacher's client.go uses for its datagram fan-out.
const (
	breakerThreshold     uint32 = 50
	breakerProbeInterval uint32 = 25
)

// Sender delivers one already-framed datagram to one destination. The
// transport layer supplies the concrete implementation (a UDP write to a
// specific address).
type Sender func(payload []byte) error

// Peer is one fan-out destination: a slot, its send function, and its own
// circuit-breaker state.
type Peer struct {
	Slot  uint32
	Send  Sender
	Team  string

	failures atomic.Uint32
	skips    atomic.Uint32
}

func (p *Peer) shouldSkip() bool {
	if p.failures.Load() < breakerThreshold {
		return false
	}
	s := p.skips.Add(1)
	return s%breakerProbeInterval != 0
}

func (p *Peer) recordFailure() {
	p.failures.Add(1)
}

func (p *Peer) recordSuccess() {
	wasTripped := p.failures.Swap(0) >= breakerThreshold
	if wasTripped {
		p.skips.Store(0)
	}
}

// Stream tracks the monotonic sequence number for the service's single
// playback stream, restarting at 0 whenever a new clip interrupts it (spec
// §4.F).
type Stream struct {
	mu  sync.Mutex
	seq uint32
}

// Next returns the next sequence number for this stream.
func (s *Stream) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seq
	s.seq++
	return v
}

// Reset restarts the sequence counter at 0, called when a new clip begins.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.seq = 0
	s.mu.Unlock()
}

// Fabric routes audio-relay frames to every registered peer, excluding the
// original source of the stream. Peer.Team is retained for a future
// per-channel "who hears what" layer but Broadcast itself does not filter
// by it — only one clip plays service-wide at a time.
type Fabric struct {
	mu    sync.RWMutex
	peers map[uint32]*Peer // by slot
}

// NewFabric returns an empty fan-out fabric.
func NewFabric() *Fabric {
	return &Fabric{peers: make(map[uint32]*Peer)}
}

// Register adds or replaces a peer's send function.
func (f *Fabric) Register(slot uint32, team string, send Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[slot] = &Peer{Slot: slot, Team: team, Send: send}
}

// Unregister removes a peer (on disconnect or idle eviction).
func (f *Fabric) Unregister(slot uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.peers, slot)
}

// defaultChannel is the channel byte Broadcast writes into every relayed
// frame; there is no multi-channel model, so it is always 0.
const defaultChannel = 0

// Broadcast sends an audio-relay frame to every registered peer except
// sourceSlot — the source never hears its own sound echoed back (spec §9
// Open Question decision). There is only one active asset stream for the
// whole service at a time (spec §4.E, §4.G), so the frame fans out to every
// peer regardless of team; per-channel "who hears what" filtering, if it is
// ever needed, belongs at a different layer than this single shared stream.
// The outbound frame uses the audio-relay wire layout, which departs from
// the common <op:1><slot:4> header: it is <op:1><from-slot:1><sequence:4>
// <channel:1><opus-len:2><opus-bytes> (spec §6), since the voice range must
// stay compact at 50 frames/second.
func (f *Fabric) Broadcast(sourceSlot uint32, seq uint32, frame []byte) {
	payload := make([]byte, 0, 9+len(frame))
	payload = append(payload, byte(wire.AudioRelay))
	payload = append(payload, byte(sourceSlot))
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	payload = append(payload, seqBuf[:]...)
	payload = append(payload, defaultChannel)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, frame...)

	f.mu.RLock()
	targets := make([]*Peer, 0, len(f.peers))
	for slot, p := range f.peers {
		if slot == sourceSlot {
			continue
		}
		targets = append(targets, p)
	}
	f.mu.RUnlock()

	for _, p := range targets {
		if p.shouldSkip() {
			continue
		}
		if err := p.Send(payload); err != nil {
			p.recordFailure()
			slog.Debug("relay: send failed", "slot", p.Slot, "err", err)
			continue
		}
		p.recordSuccess()
	}
}

// Len reports the number of registered peers.
func (f *Fabric) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.peers)
}
