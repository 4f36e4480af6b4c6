package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bken/server/internal/verr"
)

// Playlist is an ordered collection of a player's own bindings (spec §3
// Playlist). Cursor is the 0-based position the next sequential play will
// use; AdvanceCursor moves it on after each such play, so a later "play
// next" resumes where it left off.
type Playlist struct {
	ID          int64
	Identity    string
	Name        string
	Description string
	IsPublic    bool
	Cursor      int
	CreatedAt   time.Time
}

// PlaylistItem pairs a playlist with one of the owner's bindings at a given
// order position.
type PlaylistItem struct {
	ID          int64
	PlaylistID  int64
	BindingID   int64
	OrderNumber int
}

// CreatePlaylist inserts a new playlist for identity.
func (s *Store) CreatePlaylist(ctx context.Context, identity, name, description string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sound_playlists (identity, name, description) VALUES (?, ?, ?)`,
		identity, name, description,
	)
	if err != nil {
		return 0, mapUniqueConstraint(err, "playlist name already in use")
	}
	return res.LastInsertId()
}

// DeletePlaylist removes a playlist and its items; the identity must own it.
func (s *Store) DeletePlaylist(ctx context.Context, identity string, playlistID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		if err := tx.QueryRowContext(ctx, `SELECT identity FROM sound_playlists WHERE id = ?`, playlistID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return verr.New(verr.NotFound, "no such playlist")
			}
			return err
		}
		if owner != identity {
			return verr.New(verr.ValidationError, "not your playlist")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sound_playlist_items WHERE playlist_id = ?`, playlistID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sound_playlists WHERE id = ?`, playlistID)
		return err
	})
}

// AddToPlaylist appends binding to the end of playlist's item order.
func (s *Store) AddToPlaylist(ctx context.Context, playlistID, bindingID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(order_number), 0) + 1 FROM sound_playlist_items WHERE playlist_id = ?`, playlistID).Scan(&next); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sound_playlist_items (playlist_id, binding_id, order_number) VALUES (?, ?, ?)`,
			playlistID, bindingID, next,
		)
		return mapUniqueConstraint(err, "sound already in playlist")
	})
}

// RemoveFromPlaylist removes an item and compacts the remaining order.
func (s *Store) RemoveFromPlaylist(ctx context.Context, playlistID, bindingID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM sound_playlist_items WHERE playlist_id = ? AND binding_id = ?`, playlistID, bindingID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return verr.New(verr.NotFound, "not in playlist")
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM sound_playlist_items WHERE playlist_id = ? ORDER BY order_number`, playlistID)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE sound_playlist_items SET order_number = ? WHERE id = ?`, i+1, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReorderPlaylist applies a caller-supplied full ordering of binding IDs.
func (s *Store) ReorderPlaylist(ctx context.Context, playlistID int64, bindingOrder []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, bindingID := range bindingOrder {
			res, err := tx.ExecContext(ctx, `
				UPDATE sound_playlist_items SET order_number = ? WHERE playlist_id = ? AND binding_id = ?`,
				i+1+len(bindingOrder), playlistID, bindingID, // offset avoids transient UNIQUE collisions
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return verr.New(verr.NotFound, "binding not in playlist")
			}
		}
		for i, bindingID := range bindingOrder {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sound_playlist_items SET order_number = ? WHERE playlist_id = ? AND binding_id = ?`,
				i+1, playlistID, bindingID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPlaylistItems returns the items of a playlist in order.
func (s *Store) ListPlaylistItems(ctx context.Context, playlistID int64) ([]PlaylistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playlist_id, binding_id, order_number FROM sound_playlist_items
		WHERE playlist_id = ? ORDER BY order_number`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlaylistItem
	for rows.Next() {
		var it PlaylistItem
		if err := rows.Scan(&it.ID, &it.PlaylistID, &it.BindingID, &it.OrderNumber); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListPlaylists returns every playlist a player owns.
func (s *Store) ListPlaylists(ctx context.Context, identity string) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, name, description, is_public, cursor, created_at
		FROM sound_playlists WHERE identity = ? ORDER BY name`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlaylists(rows)
}

// PlaylistByID loads a single playlist.
func (s *Store) PlaylistByID(ctx context.Context, playlistID int64) (Playlist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, name, description, is_public, cursor, created_at
		FROM sound_playlists WHERE id = ?`, playlistID)
	var p Playlist
	var createdAt int64
	err := row.Scan(&p.ID, &p.Identity, &p.Name, &p.Description, &p.IsPublic, &p.Cursor, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, verr.New(verr.NotFound, "no such playlist")
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return p, err
}

// ListPublicPlaylists returns every playlist marked public.
func (s *Store) ListPublicPlaylists(ctx context.Context) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, name, description, is_public, cursor, created_at
		FROM sound_playlists WHERE is_public = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlaylists(rows)
}

// SetPlaylistVisibility toggles a playlist between private and public.
func (s *Store) SetPlaylistVisibility(ctx context.Context, identity string, playlistID int64, public bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sound_playlists SET is_public = ? WHERE id = ? AND identity = ?`, public, playlistID, identity)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return verr.New(verr.NotFound, "no such playlist")
	}
	return nil
}

// AdvanceCursor plays the binding sitting at a playlist's current
// sequential-play cursor, then advances the cursor by one (wrapping to
// zero at the end) for next time. A never-played playlist's cursor starts
// at 0, so its first sequential play is track 0, not track 1 (spec §4.J,
// §5: "after a position-0 or 254 playback succeeds, the cursor advances").
func (s *Store) AdvanceCursor(ctx context.Context, playlistID int64) (Binding, error) {
	var binding Binding
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sound_playlist_items WHERE playlist_id = ?`, playlistID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return verr.New(verr.NotFound, "playlist is empty")
		}
		var cursor int
		if err := tx.QueryRowContext(ctx, `SELECT cursor FROM sound_playlists WHERE id = ?`, playlistID).Scan(&cursor); err != nil {
			return err
		}
		current := cursor % count
		var bindingID int64
		if err := tx.QueryRowContext(ctx, `
			SELECT binding_id FROM sound_playlist_items WHERE playlist_id = ? ORDER BY order_number LIMIT 1 OFFSET ?`,
			playlistID, current,
		).Scan(&bindingID); err != nil {
			return err
		}
		next := (current + 1) % count
		if _, err := tx.ExecContext(ctx, `UPDATE sound_playlists SET cursor = ? WHERE id = ?`, next, playlistID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			SELECT id, identity, file_id, alias, visibility, created_at FROM user_sounds WHERE id = ?`, bindingID)
		var createdAt int64
		if err := row.Scan(&binding.ID, &binding.Identity, &binding.FileID, &binding.Alias, &binding.Visibility, &createdAt); err != nil {
			return err
		}
		binding.CreatedAt = time.Unix(createdAt, 0)
		return nil
	})
	return binding, err
}

func scanPlaylists(rows *sql.Rows) ([]Playlist, error) {
	var out []Playlist
	for rows.Next() {
		var p Playlist
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Identity, &p.Name, &p.Description, &p.IsPublic, &p.Cursor, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}
