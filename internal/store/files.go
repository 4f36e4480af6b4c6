package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bken/server/internal/verr"
)

// File is a stored audio asset, named by a generated unique string rather
// than the caller-supplied display name (spec §3 File).
type File struct {
	ID             string
	DisplayName    string
	SizeBytes      int64
	DurationMs     int64
	IntroducedBy   string
	ReferenceCount int
	IsPublic       bool
	FilePath       string
	CreatedAt      time.Time
}

// Binding is a player's personal pointer at a File under their own alias
// (spec §3 Binding / user_sounds).
type Binding struct {
	ID         int64
	Identity   string
	FileID     string
	Alias      string
	Visibility string // "private" or "public"
	CreatedAt  time.Time
}

// InsertFile inserts a new asset row together with its first binding in one
// transaction (spec §4.D add flow): the file and the introducing player's
// alias for it are created atomically, matching the teacher's
// file+reference pairing pattern in internal/blob/store.go.
func (s *Store) InsertFile(ctx context.Context, f File, identity, alias string) (bindingID int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sound_files (id, display_name, size_bytes, duration_ms, introduced_by, reference_count, is_public, file_path)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			f.ID, f.DisplayName, f.SizeBytes, f.DurationMs, f.IntroducedBy, f.IsPublic, f.FilePath,
		)
		if err != nil {
			return fmt.Errorf("insert sound_files: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_sounds (identity, file_id, alias, visibility)
			VALUES (?, ?, ?, 'private')`,
			identity, f.ID, alias,
		)
		if err != nil {
			return mapUniqueConstraint(err, "alias already in use")
		}
		bindingID, err = res.LastInsertId()
		return err
	})
	return bindingID, err
}

// BindExistingFile adds another player's alias to an already-stored file,
// incrementing its reference count (spec §4.D share-accept flow).
func (s *Store) BindExistingFile(ctx context.Context, fileID, identity, alias string) (bindingID int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_sounds (identity, file_id, alias, visibility)
			VALUES (?, ?, ?, 'private')`,
			identity, fileID, alias,
		)
		if err != nil {
			return mapUniqueConstraint(err, "alias already in use")
		}
		bindingID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sound_files SET reference_count = reference_count + 1 WHERE id = ?`, fileID)
		return err
	})
	return bindingID, err
}

// DeleteBinding removes a player's alias for a file. If the reference count
// drops to zero and the file is not public, the underlying file row (and its
// on-disk asset, via the returned path) is removed too; public files stay in
// the catalog — the teacher's reference-counted blob lifecycle adapted to
// the new schema.
func (s *Store) DeleteBinding(ctx context.Context, identity string, bindingID int64) (freedFilePath string, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var fileID string
		err := tx.QueryRowContext(ctx, `SELECT file_id FROM user_sounds WHERE id = ? AND identity = ?`, bindingID, identity).Scan(&fileID)
		if errors.Is(err, sql.ErrNoRows) {
			return verr.New(verr.NotFound, "no such binding")
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sound_playlist_items WHERE binding_id = ?`, bindingID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_sounds WHERE id = ?`, bindingID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sound_files SET reference_count = reference_count - 1 WHERE id = ?`, fileID); err != nil {
			return err
		}
		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT reference_count FROM sound_files WHERE id = ?`, fileID).Scan(&refs); err != nil {
			return err
		}
		if refs <= 0 {
			var path string
			var isPublic bool
			if err := tx.QueryRowContext(ctx, `SELECT file_path, is_public FROM sound_files WHERE id = ?`, fileID).Scan(&path, &isPublic); err != nil {
				return err
			}
			if !isPublic {
				if _, err := tx.ExecContext(ctx, `DELETE FROM sound_files WHERE id = ?`, fileID); err != nil {
					return err
				}
				freedFilePath = path
			}
		}
		return nil
	})
	return freedFilePath, err
}

// RenameBinding changes a player's alias for one of their bindings.
func (s *Store) RenameBinding(ctx context.Context, identity string, bindingID int64, newAlias string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE user_sounds SET alias = ? WHERE id = ? AND identity = ?`, newAlias, bindingID, identity)
	if err != nil {
		return mapUniqueConstraint(err, "alias already in use")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return verr.New(verr.NotFound, "no such binding")
	}
	return nil
}

// SetBindingVisibility toggles a binding between private and public.
func (s *Store) SetBindingVisibility(ctx context.Context, identity string, bindingID int64, public bool) error {
	visibility := "private"
	if public {
		visibility = "public"
	}
	res, err := s.db.ExecContext(ctx, `UPDATE user_sounds SET visibility = ? WHERE id = ? AND identity = ?`, visibility, bindingID, identity)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return verr.New(verr.NotFound, "no such binding")
	}
	if public {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sound_files SET is_public = 1
			WHERE id = (SELECT file_id FROM user_sounds WHERE id = ?)`, bindingID)
		return err
	}
	return nil
}

// ListBindings returns every sound a player has bound, ordered by alias.
func (s *Store) ListBindings(ctx context.Context, identity string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, file_id, alias, visibility, created_at
		FROM user_sounds WHERE identity = ? ORDER BY alias`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBindings(rows)
}

// ListPublicFiles returns every file marked public.
func (s *Store) ListPublicFiles(ctx context.Context) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, size_bytes, duration_ms, introduced_by, reference_count, is_public, file_path, created_at
		FROM sound_files WHERE is_public = 1 ORDER BY display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

// BindingByAlias resolves a player's own alias to its binding.
func (s *Store) BindingByAlias(ctx context.Context, identity, alias string) (Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, file_id, alias, visibility, created_at
		FROM user_sounds WHERE identity = ? AND alias = ?`, identity, alias)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, verr.New(verr.NotFound, "no such alias")
	}
	return b, err
}

// BindingByID loads a single binding by its row id, regardless of owner —
// used where the caller has already established ownership by other means
// (e.g. a playlist item, which is only reachable through its owning
// playlist).
func (s *Store) BindingByID(ctx context.Context, bindingID int64) (Binding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, file_id, alias, visibility, created_at
		FROM user_sounds WHERE id = ?`, bindingID)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, verr.New(verr.NotFound, "no such binding")
	}
	return b, err
}

// FileByID loads a file row.
func (s *Store) FileByID(ctx context.Context, id string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, size_bytes, duration_ms, introduced_by, reference_count, is_public, file_path, created_at
		FROM sound_files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, verr.New(verr.NotFound, "no such file")
	}
	return f, err
}

// BindingDuration returns the playable length of the file behind a binding.
func (s *Store) BindingDuration(ctx context.Context, bindingID int64) (time.Duration, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `
		SELECT f.duration_ms FROM sound_files f
		JOIN user_sounds u ON u.file_id = f.id
		WHERE u.id = ?`, bindingID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, verr.New(verr.NotFound, "no such binding")
	}
	return time.Duration(ms) * time.Millisecond, err
}

func scanFile(row *sql.Row) (File, error) {
	var f File
	var createdAt int64
	err := row.Scan(&f.ID, &f.DisplayName, &f.SizeBytes, &f.DurationMs, &f.IntroducedBy, &f.ReferenceCount, &f.IsPublic, &f.FilePath, &createdAt)
	f.CreatedAt = time.Unix(createdAt, 0)
	return f, err
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	var out []File
	for rows.Next() {
		var f File
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.DisplayName, &f.SizeBytes, &f.DurationMs, &f.IntroducedBy, &f.ReferenceCount, &f.IsPublic, &f.FilePath, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanBinding(row *sql.Row) (Binding, error) {
	var b Binding
	var createdAt int64
	err := row.Scan(&b.ID, &b.Identity, &b.FileID, &b.Alias, &b.Visibility, &createdAt)
	b.CreatedAt = time.Unix(createdAt, 0)
	return b, err
}

func scanBindings(rows *sql.Rows) ([]Binding, error) {
	var out []Binding
	for rows.Next() {
		var b Binding
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.Identity, &b.FileID, &b.Alias, &b.Visibility, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}

func mapUniqueConstraint(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return verr.Wrap(verr.AlreadyExists, msg, err)
	}
	return err
}
