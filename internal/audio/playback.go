package audio

import (
	"context"
	"sync"
	"time"
)

// State is a playback context's current phase (spec §3 PlaybackContext).
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

// frameInterval is the wall-clock pacing between frames: 20ms per frame at
// 48kHz with a 960-sample frame size.
const frameInterval = FrameSize * time.Second / TargetSampleRate

// Player is the single active-playback-stream owner for the whole service
// (spec §4.E: starting a new clip synchronously interrupts whatever is
// playing). The dispatcher holds exactly one Player and issues every Play
// through it.
type Player struct {
	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPlayer returns an idle player.
func NewPlayer() *Player {
	return &Player{state: StateIdle}
}

// State reports the player's current phase.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop interrupts any in-progress playback and waits for its goroutine to
// exit before returning, so the caller can immediately start a replacement
// without frames from two clips interleaving.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Play interrupts any current stream and begins pacing clip's frames out to
// emit, one every 20ms wall-clock, until the clip ends or the player is
// stopped/replaced. emit receives a fresh monotonic sequence number per
// stream, starting at 0, and the frame bytes.
func (p *Player) Play(clip Clip, emit func(seq uint32, frame []byte)) {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.generation++
	myGen := p.generation
	p.state = StateLoading
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.mu.Lock()
		if p.generation == myGen {
			p.state = StatePlaying
		}
		p.mu.Unlock()

		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()

		var seq uint32
	frameLoop:
		for _, frame := range clip.Frames {
			select {
			case <-ctx.Done():
				break frameLoop
			case <-ticker.C:
				emit(seq, frame)
				seq++
			}
		}

		p.mu.Lock()
		if p.generation == myGen {
			p.state = StateIdle
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
	}()
}
