package dispatch

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/url"
	"path/filepath"

	"bken/server/internal/audio"
	"bken/server/internal/policy"
	"bken/server/internal/store"
	"bken/server/internal/verr"
	"bken/server/internal/wire"
)

// extFromURL returns the file extension (including the leading dot) of a
// download URL's path component, ignoring any query string or fragment, so
// asset storage and decode dispatch can key off it (spec §4.E).
func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return filepath.Ext(rawURL)
	}
	return filepath.Ext(u.Path)
}

// handleSoundAdd validates an add request and queues the asset download;
// the result is delivered asynchronously once the worker pool finishes
// (spec §4.J, §6 add payload: `<identity:32><url-len:2><url><name>`).
func (e *Engine) handleSoundAdd(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	e.enqueueSoundAdd(ctx, slot, r, from, false)
}

func (e *Engine) enqueueSoundAdd(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr, public bool) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	rawURL, err := r.String16()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	rawName, err := r.String()
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
	if err := validateDownloadURL(rawURL); err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.addLimit.Allow(identity); err != nil {
		e.respondError(slot, from, err)
		return
	}
	bindings, err := e.store.ListBindings(ctx, identity)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if len(bindings) >= policy.MaxBindingsPerPlayer {
		e.respondError(slot, from, verr.New(verr.ValidationError, "sound limit reached"))
		return
	}

	e.downloads.Enqueue(slot, from, identity, rawURL, name, public)
	e.respond(slot, from, wire.RespProgress, func(w *wire.Writer) {
		w.PutString("Download started...")
	})
}

// finishDownload decodes, resamples, and stores a completed download job,
// binding the resulting file into the requester's catalog (spec §4.D, §4.E,
// §4.J). Failures are reported to the original requester's address, since
// the job may finish long after the triggering packet was handled.
func (e *Engine) finishDownload(ctx context.Context, job *downloadJob) {
	if job.err != nil {
		e.respond(job.slot, job.addr, wire.RespError, func(w *wire.Writer) {
			w.PutString(job.err.Error())
		})
		return
	}

	ext := extFromURL(job.url)
	pcm, err := audio.DetectAndDecode(job.data, job.url)
	if err != nil {
		e.respond(job.slot, job.addr, wire.RespError, func(w *wire.Writer) {
			w.PutString(err.Error())
		})
		return
	}
	samples := audio.Resample(pcm)
	clip, err := audio.Encode(samples)
	if err != nil {
		e.respond(job.slot, job.addr, wire.RespError, func(w *wire.Writer) {
			w.PutString(err.Error())
		})
		return
	}

	id, path, size, err := e.assets.Put(bytes.NewReader(job.data), ext)
	if err != nil {
		slog.Error("dispatch: store asset", "err", err)
		e.respond(job.slot, job.addr, wire.RespError, func(w *wire.Writer) {
			w.PutString("failed to store asset")
		})
		return
	}

	file := store.File{
		ID:           id,
		DisplayName:  job.alias,
		SizeBytes:    size,
		DurationMs:   clip.DurationMs,
		IntroducedBy: job.identity,
		IsPublic:     job.public,
		FilePath:     path,
	}
	if _, err := e.store.InsertFile(ctx, file, job.identity, job.alias); err != nil {
		e.assets.Remove(path)
		e.respond(job.slot, job.addr, wire.RespError, func(w *wire.Writer) {
			w.PutString(err.Error())
		})
		return
	}

	e.respond(job.slot, job.addr, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("Sound downloaded successfully!")
	})
}

func (e *Engine) handleSoundPlay(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	name, err := r.String()
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
	binding, err := e.store.FindOwnSound(ctx, identity, name)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.playBinding(ctx, slot, from, binding.FileID)
}

func (e *Engine) handlePlayByID(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	fileID, err := r.String()
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
	e.playBinding(ctx, slot, from, fileID)
}

// playBinding loads fileID's asset, decodes and encodes it afresh (only the
// original downloaded file is kept on disk, neither PCM nor Opus frames)
// and hands it to the single process-wide Player, which
// synchronously interrupts whatever stream was already running anywhere on
// the service — only one clip may play at a time (spec §4.E, §4.G).
func (e *Engine) playBinding(ctx context.Context, slot uint32, from *net.UDPAddr, fileID string) {
	file, err := e.store.FileByID(ctx, fileID)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	f, err := e.assets.Open(file.FilePath)
	if err != nil {
		e.respondError(slot, from, verr.Wrap(verr.Transient, "open asset", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		e.respondError(slot, from, verr.Wrap(verr.Transient, "stat asset", err))
		return
	}
	raw := make([]byte, info.Size())
	if _, err := f.ReadAt(raw, 0); err != nil {
		e.respondError(slot, from, verr.Wrap(verr.Transient, "read asset", err))
		return
	}
	pcm, err := audio.DetectAndDecode(raw, file.FilePath)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	clip, err := audio.Encode(audio.Resample(pcm))
	if err != nil {
		e.respondError(slot, from, err)
		return
	}

	e.stream.Reset()
	e.player.Play(clip, func(seq uint32, frame []byte) {
		e.fabric.Broadcast(slot, e.stream.Next(), frame)
	})

	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("playing")
	})
}

func (e *Engine) handleSoundStop(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	e.player.Stop()
	e.respond(slot, from, wire.RespSuccess, nil)
}

func (e *Engine) handleSoundList(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	bindings, err := e.store.ListBindings(ctx, identity)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respondBindingList(ctx, slot, from, bindings)
}

// respondBindingList replies with a RespList packet: a 2-byte count
// followed by per-binding `<alias><size:4>` records, matching S1's
// assertion that list returns each alias alongside its file size.
func (e *Engine) respondBindingList(ctx context.Context, slot uint32, from *net.UDPAddr, bindings []store.Binding) {
	type row struct {
		alias string
		size  int64
	}
	rows := make([]row, 0, len(bindings))
	for _, b := range bindings {
		f, err := e.store.FileByID(ctx, b.FileID)
		if err != nil {
			continue
		}
		rows = append(rows, row{alias: b.Alias, size: f.SizeBytes})
	}
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(rows)))
		for _, rw := range rows {
			w.PutString(rw.alias)
			w.PutUint32(uint32(rw.size))
		}
	})
}

func (e *Engine) handleSoundDelete(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
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
	freedPath, err := e.store.DeleteBinding(ctx, identity, binding.ID)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if freedPath != "" {
		if err := e.assets.Remove(freedPath); err != nil {
			slog.Error("dispatch: remove freed asset", "err", err)
		}
		e.auditLog(ctx, identity, "file_delete_refcount_zero", binding.FileID)
	}
	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("deleted")
	})
}

func (e *Engine) handleSoundRename(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	oldAlias, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	rawNewAlias, err := r.String()
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	identity, err := e.identityFor(slot)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	newAlias, err := validateName(rawNewAlias)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	binding, err := e.store.BindingByAlias(ctx, identity, oldAlias)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.store.RenameBinding(ctx, identity, binding.ID, newAlias); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, func(w *wire.Writer) {
		w.PutString("renamed")
	})
}

func (e *Engine) handleSetVisibility(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	if _, err := r.Identity(); err != nil {
		e.respondError(slot, from, err)
		return
	}
	alias, err := r.String()
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
	binding, err := e.store.BindingByAlias(ctx, identity, alias)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	if err := e.store.SetBindingVisibility(ctx, identity, binding.ID, public != 0); err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespSuccess, nil)
}

func (e *Engine) handlePublicList(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	files, err := e.store.ListPublicFiles(ctx)
	if err != nil {
		e.respondError(slot, from, err)
		return
	}
	e.respond(slot, from, wire.RespList, func(w *wire.Writer) {
		w.PutUint16(uint16(len(files)))
		for _, f := range files {
			w.PutString(f.DisplayName)
		}
	})
}

// handlePublicAdd is identical to handleSoundAdd except the resulting file
// is marked public at creation (no intermediate "set visibility" round
// trip), grounded on the same worker-pool flow.
func (e *Engine) handlePublicAdd(ctx context.Context, slot uint32, r *wire.Reader, from *net.UDPAddr) {
	e.enqueueSoundAdd(ctx, slot, r, from, true)
}
