package store

import (
	"context"
	"database/sql"
	"errors"

	"bken/server/internal/verr"
)

// QuickCommandAlias binds a short chat-trigger to a sound (spec §4.I). Either
// TargetBindingID (a player's own sound) or TargetFileID (a public asset) is
// set, never both.
type QuickCommandAlias struct {
	ID               int64
	Identity         string
	ShortAlias       string
	TargetBindingID  sql.NullInt64
	TargetFileID     sql.NullString
	ChatReplacement  string
}

// SetQuickCommand creates or overwrites identity's alias->sound binding.
func (s *Store) SetQuickCommand(ctx context.Context, qc QuickCommandAlias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quick_command_aliases (identity, short_alias, target_binding_id, target_file_id, chat_replacement)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity, short_alias) DO UPDATE SET
			target_binding_id = excluded.target_binding_id,
			target_file_id = excluded.target_file_id,
			chat_replacement = excluded.chat_replacement`,
		qc.Identity, qc.ShortAlias, qc.TargetBindingID, qc.TargetFileID, qc.ChatReplacement,
	)
	return err
}

// QuickCommandsFor returns every quick command a player has configured.
func (s *Store) QuickCommandsFor(ctx context.Context, identity string) ([]QuickCommandAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, short_alias, target_binding_id, target_file_id, chat_replacement
		FROM quick_command_aliases WHERE identity = ? ORDER BY short_alias`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QuickCommandAlias
	for rows.Next() {
		var qc QuickCommandAlias
		if err := rows.Scan(&qc.ID, &qc.Identity, &qc.ShortAlias, &qc.TargetBindingID, &qc.TargetFileID, &qc.ChatReplacement); err != nil {
			return nil, err
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// QuickCommandByPrefix finds a player's own quick command whose short alias
// starts with prefix (spec §4.I: prefix match before fuzzy fallback).
func (s *Store) QuickCommandByPrefix(ctx context.Context, identity, prefix string) (QuickCommandAlias, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, short_alias, target_binding_id, target_file_id, chat_replacement
		FROM quick_command_aliases
		WHERE identity = ? AND short_alias LIKE ? || '%'
		ORDER BY length(short_alias) ASC LIMIT 1`, identity, prefix)
	var qc QuickCommandAlias
	err := row.Scan(&qc.ID, &qc.Identity, &qc.ShortAlias, &qc.TargetBindingID, &qc.TargetFileID, &qc.ChatReplacement)
	if errors.Is(err, sql.ErrNoRows) {
		return QuickCommandAlias{}, verr.New(verr.NotFound, "no matching quick command")
	}
	return qc, err
}

// DeleteQuickCommand removes one of a player's quick commands.
func (s *Store) DeleteQuickCommand(ctx context.Context, identity, shortAlias string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM quick_command_aliases WHERE identity = ? AND short_alias = ?`, identity, shortAlias)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return verr.New(verr.NotFound, "no such quick command")
	}
	return nil
}

// PlayerSettings holds a player's per-identity preferences (spec §3).
type PlayerSettings struct {
	Identity    string
	QuickPrefix string
}

// GetSettings returns a player's settings, defaulting QuickPrefix to "@" if
// never configured.
func (s *Store) GetSettings(ctx context.Context, identity string) (PlayerSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT identity, quick_prefix FROM player_settings WHERE identity = ?`, identity)
	var ps PlayerSettings
	err := row.Scan(&ps.Identity, &ps.QuickPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerSettings{Identity: identity, QuickPrefix: "@"}, nil
	}
	return ps, err
}

// SetQuickPrefix updates a player's quick-command chat prefix.
func (s *Store) SetQuickPrefix(ctx context.Context, identity, prefix string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_settings (identity, quick_prefix) VALUES (?, ?)
		ON CONFLICT(identity) DO UPDATE SET quick_prefix = excluded.quick_prefix`,
		identity, prefix,
	)
	return err
}
