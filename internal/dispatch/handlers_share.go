package dispatch

import (
	"context"
	"net"

	"bken/server/internal/verr"
	"bken/server/internal/wire"
)

// handleSoundShare offers one of the sender's sounds to another identity
// (spec §4.D, S3). Payload: `<identity:32><alias><target-identity:32><suggested-alias>`.
func (e *Engine) handleSoundShare(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	alias, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	target, err := r.Identity()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	suggestedAlias, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}

	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	binding, err := e.store.BindingByAlias(ctx, identity, alias)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if _, err := e.store.CreateShare(ctx, identity, target, binding.FileID, suggestedAlias); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("share offered")
	})
}

// handlePending lists every share awaiting the caller's response (S3: "Y
// lists pending").
func (e *Engine) handlePending(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	shares, err := e.store.PendingSharesFor(ctx, identity)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	shareIDs := make([]int64, len(shares))
	for i, sh := range shares {
		shareIDs[i] = sh.ID
	}
	e.shares.Put(slot, shareIDs)
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(shares)))
		for i, sh := range shares {
			w.PutUint32(uint32(i + 1)) // 1-based ordinal — the client never sees the database id
			w.PutString(sh.SourceIdentity)
			w.PutString(sh.SuggestedAlias)
		}
	})
}

// handleShareAccept binds the shared file under the receiver's chosen
// alias. Payload: `<identity:32><ordinal:4><chosen-alias>` — ordinal is the
// 1-based position the share held in the caller's last Pending response,
// not a database id (spec §3, §4.G, S3).
func (e *Engine) handleShareAccept(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	ordinal, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	rawAlias, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	chosenAlias, err := validateName(rawAlias)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	shareID, ok := e.shares.Resolve(slot, int(ordinal))
	if !ok {
		e.respondError(slot, from, verr.New(verr.NotFound, "pending share list is stale, list pending again"))
		return
	}
	if _, err := e.store.AcceptShare(ctx, shareID, chosenAlias); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.shares.Remove(slot)
	e.auditLog(ctx, identity, "share_accept", formatSignedID(int32(shareID)))
	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("share accepted")
	})
}

// handleShareReject marks a pending share rejected. Payload:
// `<identity:32><ordinal:4>` (see handleShareAccept for the ordinal
// contract).
func (e *Engine) handleShareReject(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	ordinal, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	shareID, ok := e.shares.Resolve(slot, int(ordinal))
	if !ok {
		e.respondError(slot, from, verr.New(verr.NotFound, "pending share list is stale, list pending again"))
		return
	}
	if err := e.store.RejectShare(ctx, shareID); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.shares.Remove(slot)
	e.auditLog(ctx, identity, "share_reject", formatSignedID(int32(shareID)))
	e.respond(slot, from, wire.RespSuccess, nil)
}
