package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"bken/server/internal/verr"
)

// MenuItemKind distinguishes what a menu slot points at (spec §4.H).
type MenuItemKind string

const (
	MenuItemSound    MenuItemKind = "sound"
	MenuItemSubMenu  MenuItemKind = "menu"
	MenuItemPlaylist MenuItemKind = "playlist"
)

// Menu is a page of up to 9 selectable items (spec §3 Menu). A Menu with an
// empty OwnerIdentity is server-global; ParentID chains sub-menus.
type Menu struct {
	ID             int64
	OwnerIdentity  string
	IsServerMenu   bool
	Name           string
	ParentID       sql.NullInt64
	CreatedAt      time.Time
}

// MenuItem occupies one of a menu's 9 positions. Exactly one of
// TargetBindingID, TargetMenuID, or TargetPlaylistID is set, matching Kind.
// PlaylistSnapshot holds a frozen JSON copy of the playlist's item list at
// the time the menu was generated, used as a fallback if the live playlist
// is later deleted (spec §4.H snapshot-fallback rule).
type MenuItem struct {
	ID                int64
	MenuID            int64
	Position          int
	Kind              MenuItemKind
	DisplayName       string
	TargetBindingID   sql.NullInt64
	TargetMenuID      sql.NullInt64
	TargetPlaylistID  sql.NullInt64
	PlaylistSnapshot  []byte
}

// PlaylistSnapshotEntry is one frozen row of a playlist snapshot.
type PlaylistSnapshotEntry struct {
	Alias  string `json:"alias"`
	FileID string `json:"file_id"`
}

// CreateMenu inserts a new menu page. ownerIdentity == "" marks it
// server-global.
func (s *Store) CreateMenu(ctx context.Context, ownerIdentity, name string, parentID *int64) (int64, error) {
	var parent sql.NullInt64
	if parentID != nil {
		parent = sql.NullInt64{Int64: *parentID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sound_menus (owner_identity, is_server_menu, name, parent_id)
		VALUES (?, ?, ?, ?)`,
		ownerIdentity, ownerIdentity == "", name, parent,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetMenuItem writes (or overwrites) one of a menu's 9 positions.
func (s *Store) SetMenuItem(ctx context.Context, item MenuItem) error {
	if item.Position < 1 || item.Position > 9 {
		return verr.New(verr.ValidationError, "menu position must be 1-9")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sound_menu_items
			(menu_id, position, item_kind, display_name, target_binding_id, target_menu_id, target_playlist_id, playlist_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(menu_id, position) DO UPDATE SET
			item_kind = excluded.item_kind,
			display_name = excluded.display_name,
			target_binding_id = excluded.target_binding_id,
			target_menu_id = excluded.target_menu_id,
			target_playlist_id = excluded.target_playlist_id,
			playlist_snapshot = excluded.playlist_snapshot`,
		item.MenuID, item.Position, item.Kind, item.DisplayName,
		item.TargetBindingID, item.TargetMenuID, item.TargetPlaylistID, item.PlaylistSnapshot,
	)
	return err
}

// SnapshotPlaylist serializes a playlist's current items as JSON, for
// storage in a menu item's PlaylistSnapshot column.
func (s *Store) SnapshotPlaylist(ctx context.Context, playlistID int64) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT us.alias, us.file_id
		FROM sound_playlist_items spi
		JOIN user_sounds us ON us.id = spi.binding_id
		WHERE spi.playlist_id = ? ORDER BY spi.order_number`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []PlaylistSnapshotEntry
	for rows.Next() {
		var e PlaylistSnapshotEntry
		if err := rows.Scan(&e.Alias, &e.FileID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(entries)
}

// SnapshotForPlaylistTarget returns the most recently written snapshot
// blob among menu items pointing at playlistID, used when the live
// playlist has been deleted and a menu needs its frozen fallback (spec
// §4.H: live-with-overrides → frozen snapshot → empty).
func (s *Store) SnapshotForPlaylistTarget(ctx context.Context, playlistID int64) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT playlist_snapshot FROM user_sound_menu_items
		WHERE target_playlist_id = ? AND playlist_snapshot IS NOT NULL
		ORDER BY id DESC LIMIT 1`, playlistID)
	var snapshot []byte
	err := row.Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, verr.New(verr.NotFound, "no snapshot recorded for playlist")
	}
	return snapshot, err
}

// MenuItems returns a menu's items ordered by position (at most 9).
func (s *Store) MenuItems(ctx context.Context, menuID int64) ([]MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, menu_id, position, item_kind, display_name, target_binding_id, target_menu_id, target_playlist_id, playlist_snapshot
		FROM user_sound_menu_items WHERE menu_id = ? ORDER BY position`, menuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MenuItem
	for rows.Next() {
		var it MenuItem
		if err := rows.Scan(&it.ID, &it.MenuID, &it.Position, &it.Kind, &it.DisplayName,
			&it.TargetBindingID, &it.TargetMenuID, &it.TargetPlaylistID, &it.PlaylistSnapshot); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MenuByID loads a single menu.
func (s *Store) MenuByID(ctx context.Context, menuID int64) (Menu, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_identity, is_server_menu, name, parent_id, created_at
		FROM user_sound_menus WHERE id = ?`, menuID)
	var m Menu
	var createdAt int64
	err := row.Scan(&m.ID, &m.OwnerIdentity, &m.IsServerMenu, &m.Name, &m.ParentID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Menu{}, verr.New(verr.NotFound, "no such menu")
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	return m, err
}

// RootMenuFor returns the top-level menu for identity, falling back to the
// server-global root menu if the player has never customized one (spec
// §4.H: players without a personal menu see the shared default).
func (s *Store) RootMenuFor(ctx context.Context, identity string) (Menu, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_identity, is_server_menu, name, parent_id, created_at
		FROM user_sound_menus WHERE owner_identity = ? AND parent_id IS NULL
		ORDER BY id LIMIT 1`, identity)
	var m Menu
	var createdAt int64
	err := row.Scan(&m.ID, &m.OwnerIdentity, &m.IsServerMenu, &m.Name, &m.ParentID, &createdAt)
	if err == nil {
		m.CreatedAt = time.Unix(createdAt, 0)
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Menu{}, err
	}
	row = s.db.QueryRowContext(ctx, `
		SELECT id, owner_identity, is_server_menu, name, parent_id, created_at
		FROM user_sound_menus WHERE is_server_menu = 1 AND parent_id IS NULL
		ORDER BY id LIMIT 1`)
	err = row.Scan(&m.ID, &m.OwnerIdentity, &m.IsServerMenu, &m.Name, &m.ParentID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Menu{}, verr.New(verr.NotFound, "no default menu configured")
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	return m, err
}
