package wire

import (
	"bken/server/internal/verr"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	w := NewWriter(OpSoundPlay, 7)
	w.PutIdentity("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	w.PutString("laugh")

	r := NewReader(w.Bytes())
	op, slot, err := r.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if op != OpSoundPlay || slot != 7 {
		t.Fatalf("got op=%v slot=%d", op, slot)
	}
	id, err := r.Identity()
	if err != nil || id != "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" {
		t.Fatalf("Identity: %q, %v", id, err)
	}
	name, err := r.String()
	if err != nil || name != "laugh" {
		t.Fatalf("String: %q, %v", name, err)
	}
}

func TestString16RoundTrip(t *testing.T) {
	w := NewWriter(OpSoundAdd, 1)
	w.PutIdentity("id")
	w.PutString16("https://example.com/x.mp3")
	w.PutString("laugh")

	r := NewReader(w.Bytes())
	if _, _, err := r.Header(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Identity(); err != nil {
		t.Fatal(err)
	}
	url, err := r.String16()
	if err != nil || url != "https://example.com/x.mp3" {
		t.Fatalf("String16: %q, %v", url, err)
	}
}

func TestMalformedPacketShortHeader(t *testing.T) {
	r := NewReader([]byte{0x10, 0x00})
	_, _, err := r.Header()
	if !verr.Is(err, verr.MalformedPacket) {
		t.Fatalf("expected MalformedPacket, got %v", err)
	}
}

func TestMalformedPacketOverrunString(t *testing.T) {
	// Declares a 10-byte string but provides none.
	buf := append(NewWriter(OpSoundList, 1).Bytes(), 10)
	r := NewReader(buf)
	if _, _, err := r.Header(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.String(); !verr.Is(err, verr.MalformedPacket) {
		t.Fatalf("expected MalformedPacket, got %v", err)
	}
}

func TestSignedMenuID(t *testing.T) {
	w := NewWriter(OpMenuNavigate, 3)
	w.PutIdentity("x")
	w.PutInt32(-42)
	r := NewReader(w.Bytes())
	if _, _, err := r.Header(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Identity(); err != nil {
		t.Fatal(err)
	}
	id, err := r.Int32()
	if err != nil || id != -42 {
		t.Fatalf("Int32: %d, %v", id, err)
	}
}
