// Package menu renders hierarchical, paginated sound menus (spec §4.H).
// Each page holds at most 9 selectable entries; selecting one either
// descends into a sub-menu, plays a sound directly, or expands a playlist
// into a synthesized page of its own tracks. The client navigates by
// sending a single signed integer: positive values address a sub-menu,
// negative values (negated) address a playlist to expand.
package menu

import (
	"context"
	"encoding/json"
	"fmt"

	"bken/server/internal/store"
	"bken/server/internal/verr"
)

const pageSize = 9

// EntryKind distinguishes what a rendered page entry does when selected.
type EntryKind string

const (
	EntrySound    EntryKind = "sound"
	EntrySubMenu  EntryKind = "menu"
	EntryPlaylist EntryKind = "playlist"
)

// Entry is one renderable, selectable slot on a page.
type Entry struct {
	Position  int
	Label     string
	Kind      EntryKind
	BindingID int64  // set when Kind == EntrySound
	Alias     string // set when Kind == EntrySound: the binding's alias, sent to the client as the sound's data field (spec §6)
	TargetID  int64  // set when Kind == EntrySubMenu or EntryPlaylist (the menu or playlist's own id)
}

// Page is a single screen of up to 9 entries.
type Page struct {
	MenuID int64
	Title  string
	Entries []Entry
}

// EncodeTarget produces the signed wire value for navigating to a
// sub-menu (positive) or expanding a playlist (negative), per spec §6.
func EncodeTarget(kind EntryKind, id int64) (int32, error) {
	switch kind {
	case EntrySubMenu:
		return int32(id), nil
	case EntryPlaylist:
		return -int32(id), nil
	default:
		return 0, fmt.Errorf("entry kind %q has no navigable target", kind)
	}
}

// DecodeTarget splits a signed wire value back into a menu or playlist id.
func DecodeTarget(signed int32) (kind EntryKind, id int64) {
	if signed < 0 {
		return EntryPlaylist, int64(-signed)
	}
	return EntrySubMenu, int64(signed)
}

// Renderer builds pages from the database.
type Renderer struct {
	store *store.Store
}

// NewRenderer wraps a store for menu rendering.
func NewRenderer(s *store.Store) *Renderer {
	return &Renderer{store: s}
}

// RootFor loads identity's top-level page, falling back to the
// server-global default (store.RootMenuFor already implements the
// fallback rule).
func (r *Renderer) RootFor(ctx context.Context, identity string) (Page, error) {
	m, err := r.store.RootMenuFor(ctx, identity)
	if err != nil {
		return Page{}, err
	}
	return r.renderMenu(ctx, m)
}

// Navigate renders the page addressed by a signed menu-ID from a client's
// navigate packet: a sub-menu renders its own stored items, a playlist
// expands into a synthesized page with one entry per track.
func (r *Renderer) Navigate(ctx context.Context, signed int32) (Page, error) {
	kind, id := DecodeTarget(signed)
	if kind == EntrySubMenu {
		m, err := r.store.MenuByID(ctx, id)
		if err != nil {
			return Page{}, err
		}
		return r.renderMenu(ctx, m)
	}
	return r.expandPlaylist(ctx, id)
}

func (r *Renderer) renderMenu(ctx context.Context, m store.Menu) (Page, error) {
	items, err := r.store.MenuItems(ctx, m.ID)
	if err != nil {
		return Page{}, err
	}
	if len(items) > pageSize {
		items = items[:pageSize]
	}
	page := Page{MenuID: m.ID, Title: m.Name}
	for _, it := range items {
		e := Entry{Position: it.Position, Label: it.DisplayName}
		switch it.Kind {
		case store.MenuItemSound:
			e.Kind = EntrySound
			if it.TargetBindingID.Valid {
				e.BindingID = it.TargetBindingID.Int64
				if binding, err := r.store.BindingByID(ctx, e.BindingID); err == nil {
					e.Alias = binding.Alias
				}
			}
		case store.MenuItemSubMenu:
			e.Kind = EntrySubMenu
			if it.TargetMenuID.Valid {
				e.TargetID = it.TargetMenuID.Int64
			}
		case store.MenuItemPlaylist:
			e.Kind = EntryPlaylist
			if it.TargetPlaylistID.Valid {
				e.TargetID = it.TargetPlaylistID.Int64
			}
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// expandPlaylist renders a playlist's tracks as a page. It prefers the live
// playlist (so edits since the menu was built show up), falling back to a
// frozen snapshot if the playlist itself has since been deleted, and
// finally to an empty page if neither is available (spec §4.H fallback
// chain: live-with-overrides → frozen snapshot → empty).
func (r *Renderer) expandPlaylist(ctx context.Context, playlistID int64) (Page, error) {
	pl, err := r.store.PlaylistByID(ctx, playlistID)
	if err == nil {
		items, err := r.store.ListPlaylistItems(ctx, playlistID)
		if err != nil {
			return Page{}, err
		}
		// A menu item pointing at this (still-live) playlist may carry a
		// snapshot of its own, frozen the last time the menu was built. Its
		// per-position aliases are display-name overrides laid over the
		// live content (spec §4.H steps 2-3); a playlist that has never
		// been snapshotted simply has no overrides.
		var overrides []store.PlaylistSnapshotEntry
		if snapshot, snapErr := r.store.SnapshotForPlaylistTarget(ctx, playlistID); snapErr == nil {
			if err := json.Unmarshal(snapshot, &overrides); err != nil {
				return Page{}, verr.Wrap(verr.MalformedPacket, "decode playlist snapshot", err)
			}
		} else if !verr.Is(snapErr, verr.NotFound) {
			return Page{}, snapErr
		}

		page := Page{MenuID: -playlistID, Title: pl.Name}
		for i, it := range items {
			if i >= pageSize {
				break
			}
			alias := ""
			if binding, err := r.store.BindingByID(ctx, it.BindingID); err == nil {
				alias = binding.Alias
			}
			label := alias
			if i < len(overrides) {
				label = overrides[i].Alias
			}
			page.Entries = append(page.Entries, Entry{
				Position:  i + 1,
				Label:     label,
				Kind:      EntrySound,
				BindingID: it.BindingID,
				Alias:     alias,
			})
		}
		return page, nil
	}
	if !verr.Is(err, verr.NotFound) {
		return Page{}, err
	}
	snapshot, snapErr := r.store.SnapshotForPlaylistTarget(ctx, playlistID)
	if snapErr != nil {
		if !verr.Is(snapErr, verr.NotFound) {
			return Page{}, snapErr
		}
		return Page{MenuID: -playlistID, Title: "(deleted playlist)"}, nil
	}
	page, err := ExpandFromSnapshot(snapshot)
	page.MenuID = -playlistID
	return page, err
}

// ExpandFromSnapshot renders a page from a frozen playlist_snapshot JSON
// blob, used when a menu item's live target has been deleted (spec §4.H).
func ExpandFromSnapshot(snapshot []byte) (Page, error) {
	var entries []store.PlaylistSnapshotEntry
	if err := json.Unmarshal(snapshot, &entries); err != nil {
		return Page{}, verr.Wrap(verr.MalformedPacket, "decode playlist snapshot", err)
	}
	page := Page{Title: "(snapshot)"}
	for i, e := range entries {
		if i >= pageSize {
			break
		}
		page.Entries = append(page.Entries, Entry{
			Position: i + 1,
			Kind:     EntrySound,
			Label:    e.Alias,
			Alias:    e.Alias,
		})
	}
	return page, nil
}
