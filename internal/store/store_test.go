package store

import (
	"context"
	"testing"
	"time"

	"bken/server/internal/verr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertFileAndListBindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bindingID, err := s.InsertFile(ctx, File{
		ID: "file-1", DisplayName: "laugh.wav", SizeBytes: 1024, DurationMs: 2000,
		IntroducedBy: "steam:1", FilePath: "/assets/file-1.pcm",
	}, "steam:1", "laugh")
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if bindingID == 0 {
		t.Fatal("expected non-zero binding id")
	}

	bindings, err := s.ListBindings(ctx, "steam:1")
	if err != nil {
		t.Fatalf("ListBindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Alias != "laugh" {
		t.Fatalf("got %+v", bindings)
	}

	f, err := s.FileByID(ctx, "file-1")
	if err != nil || f.ReferenceCount != 1 {
		t.Fatalf("FileByID: %+v, %v", f, err)
	}
}

func TestDuplicateAliasRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "laugh"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertFile(ctx, File{ID: "f2", DisplayName: "b", FilePath: "/b"}, "id1", "laugh"); !verr.Is(err, verr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestDeleteBindingFreesFileAtZeroRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bindingID, err := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a/path"}, "id1", "laugh")
	if err != nil {
		t.Fatal(err)
	}
	freed, err := s.DeleteBinding(ctx, "id1", bindingID)
	if err != nil {
		t.Fatalf("DeleteBinding: %v", err)
	}
	if freed != "/a/path" {
		t.Fatalf("expected freed path, got %q", freed)
	}
	if _, err := s.FileByID(ctx, "f1"); !verr.Is(err, verr.NotFound) {
		t.Fatalf("expected file to be gone, got %v", err)
	}
}

func TestDeleteBindingKeepsFileWithRemainingRefs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b1, err := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "laugh")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.BindExistingFile(ctx, "f1", "id2", "lol"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteBinding(ctx, "id1", b1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FileByID(ctx, "f1"); err != nil {
		t.Fatalf("expected file to survive one remaining ref, got %v", err)
	}
}

func TestPlaylistCreateAddRemoveReorder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b1, _ := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	b2, _ := s.InsertFile(ctx, File{ID: "f2", DisplayName: "b", FilePath: "/b"}, "id1", "two")

	plID, err := s.CreatePlaylist(ctx, "id1", "funny", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddToPlaylist(ctx, plID, b1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddToPlaylist(ctx, plID, b2); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListPlaylistItems(ctx, plID)
	if err != nil || len(items) != 2 {
		t.Fatalf("got %+v, %v", items, err)
	}

	if err := s.ReorderPlaylist(ctx, plID, []int64{b2, b1}); err != nil {
		t.Fatalf("ReorderPlaylist: %v", err)
	}
	items, _ = s.ListPlaylistItems(ctx, plID)
	if items[0].BindingID != b2 {
		t.Fatalf("expected b2 first, got %+v", items)
	}

	if err := s.RemoveFromPlaylist(ctx, plID, b2); err != nil {
		t.Fatal(err)
	}
	items, _ = s.ListPlaylistItems(ctx, plID)
	if len(items) != 1 || items[0].OrderNumber != 1 {
		t.Fatalf("expected compacted single item, got %+v", items)
	}
}

func TestAdvanceCursorWraps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b1, _ := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	b2, _ := s.InsertFile(ctx, File{ID: "f2", DisplayName: "b", FilePath: "/b"}, "id1", "two")
	plID, _ := s.CreatePlaylist(ctx, "id1", "list", "")
	s.AddToPlaylist(ctx, plID, b1)
	s.AddToPlaylist(ctx, plID, b2)

	// The cursor starts at 0, so the first sequential play is the track at
	// position 0 (b1), not position 1 — playback happens at the current
	// cursor, which only then advances.
	first, err := s.AdvanceCursor(ctx, plID)
	if err != nil || first.ID != b1 {
		t.Fatalf("got %+v, %v", first, err)
	}
	second, err := s.AdvanceCursor(ctx, plID)
	if err != nil || second.ID != b2 {
		t.Fatalf("got %+v, %v", second, err)
	}
	third, err := s.AdvanceCursor(ctx, plID)
	if err != nil || third.ID != b1 {
		t.Fatalf("expected wrap back to b1, got %+v, %v", third, err)
	}
}

func TestShareAcceptBindsAndIncrementsRefcount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one"); err != nil {
		t.Fatal(err)
	}
	shareID, err := s.CreateShare(ctx, "id1", "id2", "f1", "one")
	if err != nil {
		t.Fatal(err)
	}
	bindingID, err := s.AcceptShare(ctx, shareID, "borrowed")
	if err != nil {
		t.Fatalf("AcceptShare: %v", err)
	}
	if bindingID == 0 {
		t.Fatal("expected non-zero binding")
	}
	f, _ := s.FileByID(ctx, "f1")
	if f.ReferenceCount != 2 {
		t.Fatalf("expected refcount 2, got %d", f.ReferenceCount)
	}
}

func TestDuplicateShareReArmsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	firstID, err := s.CreateShare(ctx, "id1", "id2", "f1", "one")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RejectShare(ctx, firstID); err != nil {
		t.Fatal(err)
	}
	secondID, err := s.CreateShare(ctx, "id1", "id2", "f1", "one")
	if err != nil {
		t.Fatal(err)
	}
	if secondID != firstID {
		t.Fatalf("expected re-armed row to reuse id %d, got %d", firstID, secondID)
	}
	sh, err := s.ShareByID(ctx, secondID)
	if err != nil || sh.Status != ShareStatusPending {
		t.Fatalf("expected re-armed share to be pending, got %+v, %v", sh, err)
	}
}

func TestShareSelfRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	if _, err := s.CreateShare(ctx, "id1", "id1", "f1", "one"); !verr.Is(err, verr.ValidationError) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExpirePendingShares(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	shareID, _ := s.CreateShare(ctx, "id1", "id2", "f1", "one")
	_ = shareID
	n, err := s.ExpirePendingShares(ctx, -time.Second) // everything is "older" than a negative cutoff
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
}

func TestVerificationCodeIssueAndRedeem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	code, err := s.IssueVerificationCode(ctx, "id1", "Display Name", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	name, err := s.RedeemVerificationCode(ctx, "id1", code)
	if err != nil {
		t.Fatalf("RedeemVerificationCode: %v", err)
	}
	if name != "Display Name" {
		t.Fatalf("got %q", name)
	}
	if _, err := s.RedeemVerificationCode(ctx, "id1", code); !verr.Is(err, verr.ValidationError) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
}

func TestVerificationCodeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	code, err := s.IssueVerificationCode(ctx, "id1", "Name", -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RedeemVerificationCode(ctx, "id1", code); !verr.Is(err, verr.ValidationError) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestFindOwnSoundExactThenPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "laughtrack")

	b, err := s.FindOwnSound(ctx, "id1", "laugh")
	if err != nil || b.Alias != "laughtrack" {
		t.Fatalf("prefix match failed: %+v, %v", b, err)
	}

	s.InsertFile(ctx, File{ID: "f2", DisplayName: "b", FilePath: "/b"}, "id1", "laugh")
	b, err = s.FindOwnSound(ctx, "id1", "laugh")
	if err != nil || b.Alias != "laugh" {
		t.Fatalf("exact match should win: %+v, %v", b, err)
	}
}

func TestFindPublicSoundNoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.FindPublicSound(ctx, "nonexistent"); !verr.Is(err, verr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestQuickCommandPrefixLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bindingID, _ := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "laugh")
	err := s.SetQuickCommand(ctx, QuickCommandAlias{
		Identity: "id1", ShortAlias: "lol",
		TargetBindingID: nullInt64(bindingID),
	})
	if err != nil {
		t.Fatal(err)
	}
	qc, err := s.QuickCommandByPrefix(ctx, "id1", "lo")
	if err != nil || qc.ShortAlias != "lol" {
		t.Fatalf("got %+v, %v", qc, err)
	}
}

func TestSettingsDefaultPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ps, err := s.GetSettings(ctx, "id1")
	if err != nil || ps.QuickPrefix != "@" {
		t.Fatalf("got %+v, %v", ps, err)
	}
	if err := s.SetQuickPrefix(ctx, "id1", "!"); err != nil {
		t.Fatal(err)
	}
	ps, _ = s.GetSettings(ctx, "id1")
	if ps.QuickPrefix != "!" {
		t.Fatalf("expected updated prefix, got %q", ps.QuickPrefix)
	}
}

func TestMenuSnapshotFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b1, _ := s.InsertFile(ctx, File{ID: "f1", DisplayName: "a", FilePath: "/a"}, "id1", "one")
	plID, _ := s.CreatePlaylist(ctx, "id1", "list", "")
	s.AddToPlaylist(ctx, plID, b1)

	menuID, err := s.CreateMenu(ctx, "id1", "root", nil)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.SnapshotPlaylist(ctx, plID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMenuItem(ctx, MenuItem{
		MenuID: menuID, Position: 1, Kind: MenuItemPlaylist, DisplayName: "list",
		TargetPlaylistID: nullInt64(plID), PlaylistSnapshot: snap,
	}); err != nil {
		t.Fatal(err)
	}

	items, err := s.MenuItems(ctx, menuID)
	if err != nil || len(items) != 1 || len(items[0].PlaylistSnapshot) == 0 {
		t.Fatalf("got %+v, %v", items, err)
	}
}
