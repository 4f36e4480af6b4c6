package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bken/server/internal/verr"
)

// ShareStatus is the lifecycle state of a ShareRequest.
type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusAccepted ShareStatus = "accepted"
	ShareStatusRejected ShareStatus = "rejected"
)

// ShareRequest offers one player's sound to another (spec §3 ShareRequest).
type ShareRequest struct {
	ID              int64
	SourceIdentity  string
	TargetIdentity  string
	FileID          string
	SuggestedAlias  string
	Status          ShareStatus
	CreatedAt       time.Time
	RespondedAt     sql.NullInt64
}

// CreateShare records a pending share offer. If a (file, source, target)
// row already exists from an earlier offer, it is re-armed to pending with
// its timestamps reset rather than rejected (spec §4.J share lifecycle).
func (s *Store) CreateShare(ctx context.Context, source, target, fileID, suggestedAlias string) (int64, error) {
	if source == target {
		return 0, verr.New(verr.ValidationError, "cannot share a sound with yourself")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sound_shares (source_identity, target_identity, file_id, suggested_alias, status, created_at, responded_at)
		VALUES (?, ?, ?, ?, 'pending', unixepoch(), NULL)
		ON CONFLICT(file_id, source_identity, target_identity) DO UPDATE SET
			suggested_alias = excluded.suggested_alias,
			status = 'pending',
			created_at = unixepoch(),
			responded_at = NULL`,
		source, target, fileID, suggestedAlias,
	)
	if err != nil {
		return 0, err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM sound_shares WHERE file_id = ? AND source_identity = ? AND target_identity = ?`,
		fileID, source, target,
	).Scan(&id)
	return id, err
}

// PendingSharesFor returns every still-pending share offered to target.
func (s *Store) PendingSharesFor(ctx context.Context, target string) ([]ShareRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_identity, target_identity, file_id, suggested_alias, status, created_at, responded_at
		FROM sound_shares WHERE target_identity = ? AND status = 'pending' ORDER BY created_at`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShareRequest
	for rows.Next() {
		var sh ShareRequest
		var createdAt int64
		if err := rows.Scan(&sh.ID, &sh.SourceIdentity, &sh.TargetIdentity, &sh.FileID, &sh.SuggestedAlias, &sh.Status, &createdAt, &sh.RespondedAt); err != nil {
			return nil, err
		}
		sh.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, sh)
	}
	return out, rows.Err()
}

// ShareByID loads a single share request.
func (s *Store) ShareByID(ctx context.Context, id int64) (ShareRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_identity, target_identity, file_id, suggested_alias, status, created_at, responded_at
		FROM sound_shares WHERE id = ?`, id)
	var sh ShareRequest
	var createdAt int64
	err := row.Scan(&sh.ID, &sh.SourceIdentity, &sh.TargetIdentity, &sh.FileID, &sh.SuggestedAlias, &sh.Status, &createdAt, &sh.RespondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ShareRequest{}, verr.New(verr.NotFound, "no such share")
	}
	sh.CreatedAt = time.Unix(createdAt, 0)
	return sh, err
}

// AcceptShare marks a pending share accepted and binds the file into the
// target's catalog under their chosen alias, all within one transaction
// (spec §4.D share-accept flow: status update, bind, refcount bump).
func (s *Store) AcceptShare(ctx context.Context, shareID int64, chosenAlias string) (bindingID int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var target, fileID, status string
		if err := tx.QueryRowContext(ctx, `
			SELECT target_identity, file_id, status FROM sound_shares WHERE id = ?`, shareID,
		).Scan(&target, &fileID, &status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return verr.New(verr.NotFound, "no such share")
			}
			return err
		}
		if status != string(ShareStatusPending) {
			return verr.New(verr.ValidationError, "share is no longer pending")
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_sounds (identity, file_id, alias, visibility) VALUES (?, ?, ?, 'private')`,
			target, fileID, chosenAlias,
		)
		if err != nil {
			return mapUniqueConstraint(err, "alias already in use")
		}
		bindingID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sound_files SET reference_count = reference_count + 1 WHERE id = ?`, fileID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sound_shares SET status = 'accepted', responded_at = unixepoch() WHERE id = ?`, shareID)
		return err
	})
	return bindingID, err
}

// RejectShare marks a pending share rejected without touching the catalog.
func (s *Store) RejectShare(ctx context.Context, shareID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sound_shares SET status = 'rejected', responded_at = unixepoch()
		WHERE id = ? AND status = 'pending'`, shareID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return verr.New(verr.NotFound, "no pending share with that id")
	}
	return nil
}

// ExpirePendingShares rejects every pending share older than maxAge,
// implementing the 5-minute pending-share lifetime (spec §5).
func (s *Store) ExpirePendingShares(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sound_shares SET status = 'rejected', responded_at = unixepoch()
		WHERE status = 'pending' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
