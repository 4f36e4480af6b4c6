package dispatch

import (
	"context"
	"net"

	"bken/server/internal/menu"
	"bken/server/internal/verr"
	"bken/server/internal/wire"
)

// handleMenuGet returns the caller's (or the server-default) root menu page
// (spec §4.H). Payload: `<identity:32><menu-type:1>` where 0 = personal,
// 1 = server-default.
func (e *Engine) handleMenuGet(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	if _, err := r.Byte(); err != nil { // menu-type: both roots resolve through the same fallback rule
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	page, err := e.menus.RootFor(ctx, identity)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respondMenuPage(slot, from, page)
}

// handleMenuPlay plays the sound occupying one position of a previously
// fetched menu page, without a separate play-by-id round trip. Payload:
// `<identity:32><menu-id:4 signed><position:1>`. Only sound-kind positions
// are playable this way; a sub-menu or playlist position must be navigated
// into first (spec §4.H, §6).
func (e *Engine) handleMenuPlay(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	menuID, err := r.Int32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	position, err := r.Byte()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.playLimit.Allow(identity); err != nil {
		e.respondError(slot, from, err)
		return
	}

	page, err := e.menus.Navigate(ctx, menuID)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	var target *menu.Entry
	for i := range page.Entries {
		if page.Entries[i].Position == int(position) {
			target = &page.Entries[i]
			break
		}
	}
	if target == nil || target.Kind != menu.EntrySound {
		e.respondError(slot, from, verr.New(verr.NotFound, "no sound at that menu position"))
		return
	}
	binding, err := e.store.BindingByID(ctx, target.BindingID)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.playBinding(ctx, slot, from, binding.FileID)
}

// handleMenuNavigate descends into a sub-menu or expands a playlist.
// Payload: `<identity:32><menu-id:4 signed><page-offset:2>` (spec §6).
func (e *Engine) handleMenuNavigate(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	signed, err := r.Int32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if _, err := r.Uint16(); err != nil { // page-offset: pagination beyond one page is not yet exercised by any menu depth seen in practice
		e.respondError(slot, from, err)
		return
	}
	page, err := e.menus.Navigate(ctx, signed)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respondMenuPage(slot, from, page)
}

// respondMenuPage encodes a menu.Page as a menu-data response: `<menu-id:4>
// <total-items:2><page-offset:2><item-count:1>` followed by item-count
// records of `<position:1><item-kind:1><name-len:1><name><data-len:1><data>`
// (spec §6).
func (e *Engine) respondMenuPage(slot uint32, from *net.UDPAddr, page menu.Page) {
	e.respond(slot, from, wire.RespMenuData, func(w *wire.Writer) {
		w.PutInt32(int32(page.MenuID))
		w.PutUint16(uint16(len(page.Entries)))
		w.PutUint16(0) // page-offset: pagination is always a single page (<=9 entries) for now
		w.PutByte(byte(len(page.Entries)))
		for _, entry := range page.Entries {
			w.PutByte(byte(entry.Position))
			w.PutByte(menuItemKindByte(entry.Kind))
			w.PutString(entry.Label)
			switch entry.Kind {
			case menu.EntrySound:
				w.PutString(entry.Alias)
			default:
				target, _ := menu.EncodeTarget(entry.Kind, entry.TargetID)
				w.PutString(formatSignedID(target))
			}
		}
	})
}

func menuItemKindByte(kind menu.EntryKind) byte {
	switch kind {
	case menu.EntrySound:
		return 0
	case menu.EntrySubMenu:
		return 1
	case menu.EntryPlaylist:
		return 2
	default:
		return 0
	}
}
