// Package dispatch is the top-level command dispatcher: one opcode switch
// orchestrating identity, the catalog store, the audio pipeline, the relay
// fabric, rate policy, menus, and quick commands (spec §4.J). It is the
// only package that imports all the others.
package dispatch

import (
	"context"
	"log/slog"
	"net"
	"time"

	"bken/server/internal/assets"
	"bken/server/internal/audio"
	"bken/server/internal/identity"
	"bken/server/internal/menu"
	"bken/server/internal/policy"
	"bken/server/internal/quickcmd"
	"bken/server/internal/relay"
	"bken/server/internal/store"
	"bken/server/internal/verr"
	"bken/server/internal/wire"
)

// Sender delivers a framed packet to one UDP address. The transport layer
// supplies the concrete implementation.
type Sender func(addr *net.UDPAddr, payload []byte) error

// Engine holds every subsystem the dispatcher orchestrates.
type Engine struct {
	store      *store.Store
	assets     *assets.Store
	identities *identity.Cache
	fabric     *relay.Fabric
	menus      *menu.Renderer
	addLimit   *policy.AddLimiter
	playLimit  *policy.PlayLimiter
	shares     *policy.PendingShareCache
	downloads  *downloadPool
	send       Sender

	// player/stream enforce the single-active-asset guard (spec §4.E,
	// §4.G): only one clip may be playing across the whole service at a
	// time, not one per team — starting a new clip always interrupts
	// whatever was already running, regardless of who owns it.
	player *audio.Player
	stream *relay.Stream
}

// NewEngine wires every subsystem into a single dispatcher.
func NewEngine(s *store.Store, a *assets.Store, send Sender) *Engine {
	return &Engine{
		store:      s,
		assets:     a,
		identities: identity.NewCache(10 * time.Minute),
		fabric:     relay.NewFabric(),
		menus:      menu.NewRenderer(s),
		addLimit:   policy.NewAddLimiter(),
		playLimit:  policy.NewPlayLimiter(),
		shares:     policy.NewPendingShareCache(1024),
		downloads:  newDownloadPool(),
		send:       send,
		player:     audio.NewPlayer(),
		stream:     &relay.Stream{},
	}
}

// Tick performs periodic maintenance: expiring idle identity-cache entries,
// expiring stale pending shares, and polling the download pool (spec §4.J:
// "the dispatcher polls worker status on each tick").
func (e *Engine) Tick(ctx context.Context) {
	for _, slot := range e.identities.EvictIdle() {
		e.fabric.Unregister(slot)
	}
	if _, err := e.store.ExpirePendingShares(ctx, policy.PendingShareTTL); err != nil {
		slog.Error("dispatch: expire pending shares", "err", err)
	}
	for _, job := range e.downloads.Poll() {
		e.finishDownload(ctx, job)
	}
}

// Handle is the single entrypoint the transport layer calls for every
// inbound datagram, after the common header has already been parsed.
func (e *Engine) Handle(op wire.Op, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	ctx := context.Background()
	e.identities.Touch(slot)

	switch op {
	case wire.OpRegister:
		e.handleRegister(ctx, slot, r, from)
	case wire.OpSoundAdd:
		e.handleSoundAdd(ctx, slot, r, from)
	case wire.OpSoundPlay:
		e.handleSoundPlay(ctx, slot, r, from)
	case wire.OpSoundList:
		e.handleSoundList(ctx, slot, r, from)
	case wire.OpSoundDelete:
		e.handleSoundDelete(ctx, slot, r, from)
	case wire.OpSoundRename:
		e.handleSoundRename(ctx, slot, r, from)
	case wire.OpSoundStop:
		e.handleSoundStop(ctx, slot, r, from)
	case wire.OpSoundShare:
		e.handleSoundShare(ctx, slot, r, from)
	case wire.OpShareAccept:
		e.handleShareAccept(ctx, slot, r, from)
	case wire.OpShareReject:
		e.handleShareReject(ctx, slot, r, from)
	case wire.OpSetVisibility:
		e.handleSetVisibility(ctx, slot, r, from)
	case wire.OpPublicList:
		e.handlePublicList(ctx, slot, r, from)
	case wire.OpPublicAdd:
		e.handlePublicAdd(ctx, slot, r, from)
	case wire.OpPending:
		e.handlePending(ctx, slot, r, from)
	case wire.OpPlaylistCreate:
		e.handlePlaylistCreate(ctx, slot, r, from)
	case wire.OpPlaylistDelete:
		e.handlePlaylistDelete(ctx, slot, r, from)
	case wire.OpPlaylistList:
		e.handlePlaylistList(ctx, slot, r, from)
	case wire.OpPlaylistAdd:
		e.handlePlaylistAdd(ctx, slot, r, from)
	case wire.OpPlaylistRemove:
		e.handlePlaylistRemove(ctx, slot, r, from)
	case wire.OpPlaylistReorder:
		e.handlePlaylistReorder(ctx, slot, r, from)
	case wire.OpPlaylistPlay:
		e.handlePlaylistPlay(ctx, slot, r, from)
	case wire.OpPlaylistPublicList:
		e.handlePlaylistPublicList(ctx, slot, r, from)
	case wire.OpPlaylistSetVisibility:
		e.handlePlaylistSetVisibility(ctx, slot, r, from)
	case wire.OpPlaylistPublicShow:
		e.handlePlaylistPublicShow(ctx, slot, r, from)
	case wire.OpMenuGet:
		e.handleMenuGet(ctx, slot, r, from)
	case wire.OpMenuPlay:
		e.handleMenuPlay(ctx, slot, r, from)
	case wire.OpMenuNavigate:
		e.handleMenuNavigate(ctx, slot, r, from)
	case wire.OpPlayByID:
		e.handlePlayByID(ctx, slot, r, from)
	case wire.OpQuickLookup:
		e.handleQuickLookup(ctx, slot, r, from)
	default:
		slog.Debug("dispatch: unhandled opcode", "op", op, "slot", slot)
	}
}

func (e *Engine) respond(slot uint32, addr *net.UDPAddr, op wire.Op, build func(w *wire.Writer)) {
	w := wire.NewWriter(op, slot)
	if build != nil {
		build(w)
	}
	if err := e.send(addr, w.Bytes()); err != nil {
		slog.Debug("dispatch: send failed", "slot", slot, "err", err)
	}
}

func (e *Engine) respondError(slot uint32, addr *net.UDPAddr, err error) {
	msg := err.Error()
	if ve, ok := err.(*verr.Error); ok {
		msg = ve.Message
	}
	e.respond(slot, addr, wire.RespError, func(w *wire.Writer) {
		w.PutString(msg)
	})
}

// auditLog records a privileged mutation. Failures are logged, not
// surfaced to the caller — the audit trail is a diagnostic aid, not part
// of the operation's contract.
func (e *Engine) auditLog(ctx context.Context, actorIdentity, action, target string) {
	if err := e.store.InsertAuditLog(ctx, actorIdentity, action, target, ""); err != nil {
		slog.Warn("dispatch: audit log insert failed", "action", action, "err", err)
	}
}

// identityFor resolves slot's authoritative identity, surfacing
// NotAuthenticated if the handshake never ran (spec §4.C).
func (e *Engine) identityFor(slot uint32) (string, error) {
	id, ok := e.identities.Lookup(slot)
	if !ok {
		return "", verr.New(verr.NotAuthenticated, "slot has not registered")
	}
	return id, nil
}
