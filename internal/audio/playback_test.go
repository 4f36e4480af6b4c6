package audio

import (
	"sync"
	"testing"
	"time"
)

func silentClip(frames int) Clip {
	var c Clip
	for i := 0; i < frames; i++ {
		c.Frames = append(c.Frames, []byte{0x01, 0x02})
	}
	return c
}

func TestPlayEmitsEveryFrameInOrder(t *testing.T) {
	p := NewPlayer()
	var mu sync.Mutex
	var seqs []uint32

	done := make(chan struct{})
	count := 0
	p.Play(silentClip(3), func(seq uint32, frame []byte) {
		mu.Lock()
		seqs = append(seqs, seq)
		count++
		if count == 3 {
			close(done)
		}
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 3 || seqs[0] != 0 || seqs[1] != 1 || seqs[2] != 2 {
		t.Fatalf("got %v", seqs)
	}
}

func TestPlayInterruptsPriorStream(t *testing.T) {
	p := NewPlayer()
	var mu sync.Mutex
	firstFrames := 0

	p.Play(silentClip(100), func(seq uint32, frame []byte) {
		mu.Lock()
		firstFrames++
		mu.Unlock()
	})
	time.Sleep(30 * time.Millisecond) // let a couple of frames emit

	secondDone := make(chan struct{})
	p.Play(silentClip(1), func(seq uint32, frame []byte) {
		close(secondDone)
	})

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second stream never played")
	}

	mu.Lock()
	emittedAtSwitch := firstFrames
	mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if firstFrames != emittedAtSwitch {
		t.Fatalf("first stream kept emitting after interrupt: %d -> %d", emittedAtSwitch, firstFrames)
	}
}

func TestStateTransitionsToIdleAfterClipEnds(t *testing.T) {
	p := NewPlayer()
	if p.State() != StateIdle {
		t.Fatal("expected initial idle state")
	}
	done := make(chan struct{})
	p.Play(silentClip(1), func(seq uint32, frame []byte) {
		close(done)
	})
	<-done
	time.Sleep(50 * time.Millisecond)
	if p.State() != StateIdle {
		t.Fatalf("expected idle after clip ends, got %v", p.State())
	}
}
