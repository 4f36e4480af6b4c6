package dispatch

import (
	"context"
	"net"
	"time"

	"golang.org/x/text/unicode/norm"

	"bken/server/internal/wire"
)

// registrationCodeTTL matches S4: a code is valid for 600s after issue.
const registrationCodeTTL = 10 * time.Minute

// handleRegister binds slot to the identity carried in the packet (the one
// and only packet the engine trusts an inbound identity from — every later
// operation instead resolves identity via the slot lookup, spec §4.C) and
// issues a one-time verification code tying that identity to the player's
// in-game display name.
func (e *Engine) handleRegister(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	id, err := r.Identity()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	displayName, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	// Normalize to NFC so the same name typed on different platforms
	// compares and stores identically (spec §7 ValidationError rule).
	displayName = norm.NFC.String(displayName)

	e.identities.Authenticate(slot, id, from)

	code, err := e.store.IssueVerificationCode(ctx, id, displayName, registrationCodeTTL)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespRegisterCode, func(w *wire.Writer) {
		w.PutString(code)
	})
}
