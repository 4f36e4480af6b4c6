package dispatch

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"

	"bken/server/internal/assets"
	"bken/server/internal/store"
	"bken/server/internal/wire"
)

func newTestEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	a, err := assets.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return NewEngine(s, a, rec.send), rec
}

// recorder captures every outbound packet a test sends through Engine.send,
// so assertions can inspect opcode and payload without a real socket.
type recorder struct {
	mu  sync.Mutex
	got []sentPacket
}

type sentPacket struct {
	addr *net.UDPAddr
	op   wire.Op
	slot uint32
	body []byte
}

func (r *recorder) send(addr *net.UDPAddr, payload []byte) error {
	reader := wire.NewReader(payload)
	op, slot, err := reader.Header()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sentPacket{addr: addr, op: op, slot: slot, body: payload[wire.HeaderLen:]})
	return nil
}

func (r *recorder) last() (sentPacket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return sentPacket{}, false
	}
	return r.got[len(r.got)-1], true
}

var testAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

// buildWAV assembles a minimal canonical PCM16 mono WAV file for tests.
func buildWAV(t *testing.T, sampleRate int, samples []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range samples {
		binary.Write(&data, binary.LittleEndian, s)
	}
	dataBytes := data.Bytes()
	byteRate := sampleRate * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(dataBytes)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(dataBytes)))
	buf.Write(dataBytes)
	return buf.Bytes()
}

func register(t *testing.T, e *Engine, slot uint32, identity, displayName string) {
	t.Helper()
	w := wire.NewWriter(wire.OpRegister, slot).PutIdentity(identity).PutString(displayName)
	op, s, r, err := decodeHeader(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, s, r, testAddr)
}

func decodeHeader(buf []byte) (wire.Op, uint32, *wire.Reader, error) {
	r := wire.NewReader(buf)
	op, slot, err := r.Header()
	return op, slot, r, err
}

func TestRegisterIssuesVerificationCode(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "player-one", "Player One")

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespRegisterCode {
		t.Fatalf("expected RespRegisterCode, got %+v ok=%v", pkt, ok)
	}
	if _, ok := e.identities.Lookup(1); !ok {
		t.Fatal("expected slot 1 to be authenticated")
	}
}

func TestSoundAddThenFinishDownloadThenList(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "player-one", "Player One")

	w := wire.NewWriter(wire.OpSoundAdd, 1).
		PutIdentity("player-one").
		PutString16("https://example.com/sound.wav").
		PutString("Laugh_Track")
	op, slot, r, err := decodeHeader(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespProgress {
		t.Fatalf("expected RespProgress, got %+v", pkt)
	}

	jobs := e.downloads.Poll()
	if len(jobs) != 0 {
		t.Fatalf("job should still be running, not fetched from a real network")
	}

	// Finish the job synchronously as if the worker pool completed it,
	// bypassing the real HTTP fetch.
	job := &downloadJob{
		slot: 1, addr: testAddr, identity: "player-one",
		url:   "https://example.com/sound.wav",
		alias: "laugh_track", data: buildWAV(t, 48000, []int16{0, 1000, -1000, 0}),
	}
	e.finishDownload(context.Background(), job)

	pkt, ok = rec.last()
	if !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected RespSuccess after finishDownload, got %+v", pkt)
	}

	lw := wire.NewWriter(wire.OpSoundList, 1).PutIdentity("player-one")
	op, slot, r, err = decodeHeader(lw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok = rec.last()
	if !ok || pkt.op != wire.RespList {
		t.Fatalf("expected RespList, got %+v", pkt)
	}
	lr := wire.NewReader(pkt.body)
	count, err := lr.Uint16()
	if err != nil || count != 1 {
		t.Fatalf("expected 1 bound sound, got count=%d err=%v", count, err)
	}
}

func TestSoundAddRejectsThe101stBinding(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "player-one", "Player One")
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		f := store.File{ID: fmt.Sprintf("f%d", i), DisplayName: "x", FilePath: "/tmp/doesnotmatter"}
		if _, err := e.store.InsertFile(ctx, f, "player-one", fmt.Sprintf("sound_%d", i)); err != nil {
			t.Fatalf("binding %d: %v", i, err)
		}
	}

	w := wire.NewWriter(wire.OpSoundAdd, 1).
		PutIdentity("player-one").
		PutString16("https://example.com/sound.wav").
		PutString("One_More")
	op, slot, r, err := decodeHeader(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespError {
		t.Fatalf("expected the 101st add to fail (limit is 100), got %+v ok=%v", pkt, ok)
	}
}

func TestSoundDeleteRemovesBinding(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "player-one", "Player One")
	ctx := context.Background()
	if _, err := e.store.InsertFile(ctx, store.File{ID: "f1", DisplayName: "x", FilePath: "/tmp/doesnotmatter"}, "player-one", "my_sound"); err != nil {
		t.Fatal(err)
	}

	dw := wire.NewWriter(wire.OpSoundDelete, 1).PutIdentity("player-one").PutString("my_sound")
	op, slot, r, err := decodeHeader(dw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected RespSuccess, got %+v", pkt)
	}
	if _, err := e.store.BindingByAlias(ctx, "player-one", "my_sound"); err == nil {
		t.Fatal("expected binding to be gone")
	}
}

func TestShareOfferAcceptRoundTrip(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")
	register(t, e, 2, "bob", "Bob")
	ctx := context.Background()
	if _, err := e.store.InsertFile(ctx, store.File{ID: "f1", DisplayName: "x", FilePath: "/tmp/x"}, "alice", "my_sound"); err != nil {
		t.Fatal(err)
	}

	sw := wire.NewWriter(wire.OpSoundShare, 1).
		PutIdentity("alice").PutString("my_sound").PutIdentity("bob").PutString("their_copy")
	op, slot, r, err := decodeHeader(sw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	if pkt, ok := rec.last(); !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected share offer success, got %+v", pkt)
	}

	pw := wire.NewWriter(wire.OpPending, 2).PutIdentity("bob")
	op, slot, r, err = decodeHeader(pw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespList {
		t.Fatalf("expected RespList, got %+v", pkt)
	}
	lr := wire.NewReader(pkt.body)
	count, err := lr.Uint16()
	if err != nil || count != 1 {
		t.Fatalf("expected one pending share, got count=%d err=%v", count, err)
	}
	ordinal, err := lr.Uint32()
	if err != nil || ordinal != 1 {
		t.Fatalf("expected the first pending share to carry ordinal 1, got %d err=%v", ordinal, err)
	}

	// accept/reject take the 1-based ordinal from the Pending list, never
	// the underlying database share id (spec §3, §4.G).
	aw := wire.NewWriter(wire.OpShareAccept, 2).
		PutIdentity("bob").PutUint32(ordinal).PutString("their_copy")
	op, slot, r, err = decodeHeader(aw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	if pkt, ok := rec.last(); !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected accept success, got %+v", pkt)
	}

	if _, err := e.store.BindingByAlias(ctx, "bob", "their_copy"); err != nil {
		t.Fatalf("expected bob to have the shared sound bound: %v", err)
	}

	entries, err := e.store.GetAuditLog(ctx, "share_accept", 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %v err=%v", entries, err)
	}
}

func TestQuickLookupNotFound(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")

	qw := wire.NewWriter(wire.OpQuickLookup, 1).PutByte(1).PutIdentity("alice").PutString("@nope")
	op, slot, r, err := decodeHeader(qw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespQuickNotFound {
		t.Fatalf("expected RespQuickNotFound, got %+v", pkt)
	}
}

func TestQuickLookupFoundPlaysBoundSound(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")
	ctx := context.Background()

	wavData := buildWAV(t, 48000, []int16{0, 500, -500, 0})
	_, assetPath, _, err := e.assets.Put(bytes.NewReader(wavData), ".wav")
	if err != nil {
		t.Fatal(err)
	}
	bindingID, err := e.store.InsertFile(ctx, store.File{
		ID: "f1", DisplayName: "laugh", FilePath: assetPath,
	}, "alice", "laugh")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetQuickCommand(ctx, store.QuickCommandAlias{
		Identity: "alice", ShortAlias: "lol",
		TargetBindingID: sql.NullInt64{Int64: bindingID, Valid: true},
	}); err != nil {
		t.Fatal(err)
	}

	qw := wire.NewWriter(wire.OpQuickLookup, 1).PutByte(1).PutIdentity("alice").PutString("@lol")
	op, slot, r, err := decodeHeader(qw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op == wire.RespError || pkt.op == wire.RespQuickNotFound {
		t.Fatalf("expected quick command to resolve and play, got %+v", pkt)
	}
}

func TestMenuGetReturnsServerRoot(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")

	if _, err := e.store.CreateMenu(context.Background(), "", "Server Menu", nil); err != nil {
		t.Fatal(err)
	}

	mw := wire.NewWriter(wire.OpMenuGet, 1).PutIdentity("alice").PutByte(0)
	op, slot, r, err := decodeHeader(mw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespMenuData {
		t.Fatalf("expected RespMenuData, got %+v", pkt)
	}
}

func TestMenuPlayPlaysBoundSound(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")
	ctx := context.Background()

	wavData := buildWAV(t, 48000, []int16{0, 1000, -1000, 0})
	_, assetPath, _, err := e.assets.Put(bytes.NewReader(wavData), ".wav")
	if err != nil {
		t.Fatal(err)
	}
	bindingID, err := e.store.InsertFile(ctx, store.File{
		ID: "f1", DisplayName: "laugh", FilePath: assetPath,
	}, "alice", "laugh")
	if err != nil {
		t.Fatal(err)
	}
	menuID, err := e.store.CreateMenu(ctx, "", "Server Menu", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.SetMenuItem(ctx, store.MenuItem{
		MenuID: menuID, Position: 1, Kind: store.MenuItemSound,
		DisplayName:     "laugh",
		TargetBindingID: sql.NullInt64{Int64: bindingID, Valid: true},
	}); err != nil {
		t.Fatal(err)
	}

	pw := wire.NewWriter(wire.OpMenuPlay, 1).
		PutIdentity("alice").PutInt32(int32(menuID)).PutByte(1)
	op, slot, r, err := decodeHeader(pw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op == wire.RespError {
		t.Fatalf("expected playback to start, got %+v", pkt)
	}
}

func TestPlaylistCreateAddThenCursorPlay(t *testing.T) {
	e, rec := newTestEngine(t)
	register(t, e, 1, "alice", "Alice")
	ctx := context.Background()

	wavData := buildWAV(t, 48000, []int16{0, 500, -500, 0})
	_, assetPath, _, err := e.assets.Put(bytes.NewReader(wavData), ".wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.store.InsertFile(ctx, store.File{
		ID: "f1", DisplayName: "laugh", FilePath: assetPath,
	}, "alice", "laugh"); err != nil {
		t.Fatal(err)
	}

	cw := wire.NewWriter(wire.OpPlaylistCreate, 1).
		PutIdentity("alice").PutString("favorites").PutString("my favorites")
	op, slot, r, err := decodeHeader(cw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected playlist create success, got %+v", pkt)
	}
	pr := wire.NewReader(pkt.body)
	playlistID, err := pr.Uint32()
	if err != nil {
		t.Fatal(err)
	}

	aw := wire.NewWriter(wire.OpPlaylistAdd, 1).
		PutIdentity("alice").PutUint32(playlistID).PutString("laugh")
	op, slot, r, err = decodeHeader(aw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	if pkt, ok := rec.last(); !ok || pkt.op != wire.RespSuccess {
		t.Fatalf("expected playlist add success, got %+v", pkt)
	}

	pw := wire.NewWriter(wire.OpPlaylistPlay, 1).
		PutIdentity("alice").PutUint32(playlistID).PutByte(0)
	op, slot, r, err = decodeHeader(pw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)
	if pkt, ok := rec.last(); !ok || pkt.op == wire.RespError {
		t.Fatalf("expected playback to start, got %+v", pkt)
	}
}

func TestUnregisteredSlotGetsNotAuthenticated(t *testing.T) {
	e, rec := newTestEngine(t)
	lw := wire.NewWriter(wire.OpSoundList, 7).PutIdentity("nobody")
	op, slot, r, err := decodeHeader(lw.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	e.Handle(op, slot, r, testAddr)

	pkt, ok := rec.last()
	if !ok || pkt.op != wire.RespError {
		t.Fatalf("expected RespError, got %+v", pkt)
	}
}
