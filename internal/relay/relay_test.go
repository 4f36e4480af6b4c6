package relay

import (
	"errors"
	"testing"
)

func TestBroadcastExcludesSource(t *testing.T) {
	f := NewFabric()
	var gotA, gotB int
	f.Register(1, "", func(p []byte) error { gotA++; return nil })
	f.Register(2, "", func(p []byte) error { gotB++; return nil })

	f.Broadcast(1, 0, []byte{0xAA})

	if gotA != 0 {
		t.Fatalf("source should not receive its own broadcast, got %d sends", gotA)
	}
	if gotB != 1 {
		t.Fatalf("expected peer 2 to receive one send, got %d", gotB)
	}
}

func TestBroadcastReachesEveryTeamExceptSource(t *testing.T) {
	f := NewFabric()
	var red, blue int
	f.Register(1, "red", func(p []byte) error { red++; return nil })
	f.Register(2, "blue", func(p []byte) error { blue++; return nil })
	f.Register(3, "red", func(p []byte) error { return nil })

	f.Broadcast(3, 0, []byte{0x01})

	if red != 1 {
		t.Fatalf("expected the other red peer reached, got %d", red)
	}
	if blue != 1 {
		t.Fatalf("only one asset stream plays at a time service-wide, expected blue reached too, got %d", blue)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	f := NewFabric()
	attempts := 0
	f.Register(2, "", func(p []byte) error { attempts++; return errors.New("unreachable") })
	f.Register(1, "", func(p []byte) error { return nil })

	for i := uint32(0); i < breakerThreshold+5; i++ {
		f.Broadcast(1, i, []byte{0x01})
	}
	if attempts != int(breakerThreshold) {
		t.Fatalf("expected breaker to stop after %d failures, got %d attempts", breakerThreshold, attempts)
	}
}

func TestStreamSequenceResetsOnNewClip(t *testing.T) {
	s := &Stream{}
	if s.Next() != 0 || s.Next() != 1 {
		t.Fatal("expected sequential numbering from 0")
	}
	s.Reset()
	if s.Next() != 0 {
		t.Fatal("expected sequence to restart at 0 after Reset")
	}
}
