package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bken/server/internal/verr"
)

// codeAlphabet avoids visually ambiguous characters (0/O, 1/I/l) since
// verification codes are read aloud or typed from a chat window.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// VerificationCode binds a one-time registration code to the identity that
// requested it (spec §4.C registration flow). At most one live code exists
// per identity; issuing a new one overwrites the prior row.
type VerificationCode struct {
	Identity    string
	Code        string
	DisplayName string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
}

// IssueVerificationCode generates and stores a fresh code for identity,
// replacing any code already pending for it.
func (s *Store) IssueVerificationCode(ctx context.Context, identity, displayName string, ttl time.Duration) (string, error) {
	code, err := randomCode(6)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_codes (identity, code, display_name, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(identity) DO UPDATE SET
			code = excluded.code,
			display_name = excluded.display_name,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			used = 0`,
		identity, code, displayName, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return "", err
	}
	return code, nil
}

// RedeemVerificationCode consumes a live code if it matches and hasn't
// expired, returning the display name it was issued for.
func (s *Store) RedeemVerificationCode(ctx context.Context, identity, code string) (displayName string, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var vc VerificationCode
		var createdAt, expiresAt int64
		row := tx.QueryRowContext(ctx, `
			SELECT identity, code, display_name, created_at, expires_at, used
			FROM verification_codes WHERE identity = ?`, identity)
		if err := row.Scan(&vc.Identity, &vc.Code, &vc.DisplayName, &createdAt, &expiresAt, &vc.Used); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return verr.New(verr.NotFound, "no verification code pending")
			}
			return err
		}
		if vc.Used {
			return verr.New(verr.ValidationError, "code already used")
		}
		if time.Now().Unix() > expiresAt {
			return verr.New(verr.ValidationError, "code expired")
		}
		if vc.Code != code {
			return verr.New(verr.ValidationError, "code does not match")
		}
		displayName = vc.DisplayName
		_, err := tx.ExecContext(ctx, `UPDATE verification_codes SET used = 1 WHERE identity = ?`, identity)
		return err
	})
	return displayName, err
}

func randomCode(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}
