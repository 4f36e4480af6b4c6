package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bken/server/internal/verr"
)

// FindOwnSound resolves a player's own alias by exact match first, falling
// back to a prefix match (shortest alias wins on ties) if no exact alias
// exists — the fuzzy-lookup rule quick commands and sound-play both use
// (spec §4.D, §4.I).
func (s *Store) FindOwnSound(ctx context.Context, identity, query string) (Binding, error) {
	b, err := s.BindingByAlias(ctx, identity, query)
	if err == nil {
		return b, nil
	}
	if !verr.Is(err, verr.NotFound) {
		return Binding{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, file_id, alias, visibility, created_at
		FROM user_sounds
		WHERE identity = ? AND alias LIKE ? || '%'
		ORDER BY length(alias) ASC, alias ASC LIMIT 1`, identity, query)
	b, err = scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Binding{}, verr.New(verr.NotFound, "no sound matches "+query)
	}
	return b, err
}

// FindPublicSound performs the same exact-then-prefix fuzzy match, scoped to
// files marked public rather than one player's own bindings.
func (s *Store) FindPublicSound(ctx context.Context, query string) (File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, size_bytes, duration_ms, introduced_by, reference_count, is_public, file_path, created_at
		FROM sound_files WHERE is_public = 1 AND display_name = ?`, query)
	f, err := scanFile(row)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return File{}, err
	}
	row = s.db.QueryRowContext(ctx, `
		SELECT id, display_name, size_bytes, duration_ms, introduced_by, reference_count, is_public, file_path, created_at
		FROM sound_files
		WHERE is_public = 1 AND display_name LIKE ? || '%'
		ORDER BY length(display_name) ASC, display_name ASC LIMIT 1`, query)
	f, err = scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, verr.New(verr.NotFound, "no public sound matches "+strings.TrimSpace(query))
	}
	return f, err
}
