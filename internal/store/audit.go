package store

import (
	"context"
	"database/sql"
)

// maxAuditEntries caps the audit log; InsertAuditLog purges the oldest
// rows beyond this count on every insert (teacher's store.go pattern).
const maxAuditEntries = 10000

// AuditEntry is one row in the audit_log table: a record of a privileged
// catalog mutation (share accept/reject, file delete on refcount-zero),
// repurposed from the teacher's
// admin-kick/ban auditing.
type AuditEntry struct {
	ID            int64
	ActorIdentity string
	Action        string
	Target        string
	DetailsJSON   string
	CreatedAt     int64
}

// InsertAuditLog records a privileged mutation. If the table exceeds
// maxAuditEntries rows, the oldest entries are purged.
func (s *Store) InsertAuditLog(ctx context.Context, actorIdentity, action, target, detailsJSON string) error {
	if detailsJSON == "" {
		detailsJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(actor_identity, action, target, details_json) VALUES(?,?,?,?)`,
		actorIdentity, action, target, detailsJSON,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)`, maxAuditEntries)
	return err
}

// GetAuditLog returns audit log entries, most recent first, with an
// optional action filter (pass "" for all actions).
func (s *Store) GetAuditLog(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	var rows *sql.Rows
	var err error
	if action != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, actor_identity, action, target, details_json, created_at FROM audit_log WHERE action = ? ORDER BY id DESC LIMIT ?`,
			action, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, actor_identity, action, target, details_json, created_at FROM audit_log ORDER BY id DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorIdentity, &e.Action, &e.Target, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
