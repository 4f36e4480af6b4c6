package dispatch

import (
	"context"
	"math/rand"
	"net"

	"bken/server/internal/verr"
	"bken/server/internal/wire"
)

const (
	playlistPositionNext   = 254
	playlistPositionRandom = 255
)

// handlePlaylistCreate: `<identity:32><name><description>`.
func (e *Engine) handlePlaylistCreate(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	rawName, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	description, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	name, err := validateName(rawName)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	id, err := e.store.CreatePlaylist(ctx, identity, name, description)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutUint32(uint32(id))
	})
}

// handlePlaylistDelete: `<identity:32><playlist-id:4>`.
func (e *Engine) handlePlaylistDelete(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.store.DeletePlaylist(ctx, identity, int64(playlistID)); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

// handlePlaylistList: `<identity:32>`.
func (e *Engine) handlePlaylistList(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlists, err := e.store.ListPlaylists(ctx, identity)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(playlists)))
		for _, p := range playlists {
			w.PutUint32(uint32(p.ID))
			w.PutString(p.Name)
		}
	})
}

// handlePlaylistAdd: `<identity:32><playlist-id:4><alias>`.
func (e *Engine) handlePlaylistAdd(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	alias, err := r.String()
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
	if err := e.store.AddToPlaylist(ctx, int64(playlistID), binding.ID); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

// handlePlaylistRemove: `<identity:32><playlist-id:4><alias>`.
func (e *Engine) handlePlaylistRemove(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	alias, err := r.String()
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
	if err := e.store.RemoveFromPlaylist(ctx, int64(playlistID), binding.ID); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

// handlePlaylistReorder: `<identity:32><playlist-id:4><count:1>` followed by
// count aliases, each a length-prefixed string, in the caller's desired order.
func (e *Engine) handlePlaylistReorder(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	count, err := r.Byte()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	bindingOrder := make([]int64, 0, count)
	for i := 0; i < int(count); i++ {
		alias, err := r.String()
		if err != nil {
			e.respondError(slot, from, err)
			return
		}
		binding, err := e.store.BindingByAlias(ctx, identity, alias)
		if err != nil {
			e.respondError(slot, from, err)
			return
		}
		bindingOrder = append(bindingOrder, binding.ID)
	}
	if err := e.store.ReorderPlaylist(ctx, int64(playlistID), bindingOrder); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

// handlePlaylistPlay: `<identity:32><playlist-id:4><position:1>`. Position 0
// uses (and advances) the stored cursor, 254 requests the next track
// without caller-supplied position bookkeeping, and 255 picks a track at
// random without disturbing the cursor (spec §4.J playlist-play rule).
func (e *Engine) handlePlaylistPlay(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
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

	var fileID string
	switch position {
	case 0, playlistPositionNext:
		b, err := e.store.AdvanceCursor(ctx, int64(playlistID))
		if err != nil {
			e.respondError(slot, from, err)
			return
		}
		fileID = b.FileID
	case playlistPositionRandom:
		items, err := e.store.ListPlaylistItems(ctx, int64(playlistID))
		if err != nil {
			e.respondError(slot, from, err)
			return
		}
		if len(items) == 0 {
			e.respondError(slot, from, verr.New(verr.NotFound, "playlist is empty"))
			return
		}
		chosen := items[rand.Intn(len(items))]
		b, err := e.store.BindingByID(ctx, chosen.BindingID)
		if err != nil {
			e.respondError(slot, from, err)
			return
		}
		fileID = b.FileID
	default:
		e.respondError(slot, from, verr.New(verr.ValidationError, "invalid playlist position"))
		return
	}

	e.playBinding(ctx, slot, from, fileID)
}

func (e *Engine) handlePlaylistPublicList(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	playlists, err := e.store.ListPublicPlaylists(ctx)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(playlists)))
		for _, p := range playlists {
			w.PutUint32(uint32(p.ID))
			w.PutString(p.Name)
		}
	})
}

// handlePlaylistSetVisibility: `<identity:32><playlist-id:4><public:1>`.
func (e *Engine) handlePlaylistSetVisibility(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	public, err := r.Byte()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.store.SetPlaylistVisibility(ctx, identity, int64(playlistID), public != 0); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

// handlePlaylistPublicShow: `<playlist-id:4>`.
func (e *Engine) handlePlaylistPublicShow(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	playlistID, err := r.Uint32()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	items, err := e.store.ListPlaylistItems(ctx, int64(playlistID))
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(items)))
		for _, it := range items {
			w.PutUint32(uint32(it.BindingID))
		}
	})
}
