package dispatch

import (
	"context"
	"net"

	"bken/server/internal/quickcmd"
	"bken/server/internal/wire"
)

// handleQuickLookup dispatches a chat message against the caller's
// configured quick commands, with a public-asset fuzzy fallback (spec
// §4.I). Payload: `<slot:1><identity:32><message-len:1><message>`; the
// embedded slot byte lets a relayed chat line be attributed to whichever
// peer actually typed it, independent of the header's originating slot.
func (e *Engine) handleQuickLookup(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Byte(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	message, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}

	result, err := quickcmd.Dispatch(ctx, e.store, identity, message)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if !result.Matched {
		e.respond(slot, from, wire.RespQuickNotFound, func(w *wire.Writer) {
			w.PutByte(byte(slot))
		})
		return
	}

	if result.BindingID != 0 {
		binding, err := e.store.BindingByID(ctx, result.BindingID)
		if err == nil {
			e.playBinding(ctx, slot, from, binding.FileID)
		}
	} else if result.FileID != "" {
		e.playBinding(ctx, slot, from, result.FileID)
	}

	e.respond(slot, from, wire.RespQuickFound, func(w *wire.Writer) {
		w.PutByte(byte(slot))
		w.PutString(result.ChatText)
	})
}
