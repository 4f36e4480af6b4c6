package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"bken/server/internal/assets"
	"bken/server/internal/config"
	"bken/server/internal/dispatch"
	"bken/server/internal/store"
	"bken/server/internal/transport"
)

func main() {
	addr := flag.String("addr", ":7777", "UDP listen address")
	tickInterval := flag.Duration("tick-interval", 10*time.Second, "identity eviction / share GC / download poll interval")
	optimizeInterval := flag.Duration("optimize-interval", 1*time.Hour, "SQLite PRAGMA optimize interval")
	flag.Parse()

	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	cfg := config.Load(*addr)

	// Full dispatch needs the relational store for shares, playlists, menus,
	// and quick commands — VOXD_DATABASE_URL unset just means the operator
	// didn't pick a path, not that persistence should be skipped.
	dbPath := cfg.DatabaseURL
	if cfg.FilesystemOnly() {
		slog.Warn("voxd: VOXD_DATABASE_URL not set, defaulting to ./voxd.db")
		dbPath = "voxd.db"
	}
	st, err := store.New(dbPath)
	if err != nil {
		slog.Error("voxd: open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	assetStore, err := assets.NewStore(cfg.AssetsDir)
	if err != nil {
		slog.Error("voxd: open asset store", "err", err)
		os.Exit(1)
	}

	srv, err := transport.Listen(cfg.ListenAddr)
	if err != nil {
		slog.Error("voxd: listen", "err", err)
		os.Exit(1)
	}
	defer srv.Close()

	engine := dispatch.NewEngine(st, assetStore, srv.Send)
	srv.SetHandler(engine.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("voxd: shutting down...")
		cancel()
	}()

	// Periodically evict idle identities, expire pending shares, and drain
	// finished downloads — the mute-expiry/ban-purge ticker analog.
	go func() {
		ticker := time.NewTicker(*tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				engine.Tick(ctx)
			}
		}
	}()

	// Periodically optimize SQLite's query planner.
	go func() {
		ticker := time.NewTicker(*optimizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					slog.Warn("voxd: optimize", "err", err)
				}
			}
		}
	}()

	slog.Info("voxd: serving", "addr", srv.LocalAddr().String())
	if err := srv.Serve(ctx); err != nil {
		slog.Error("voxd: serve", "err", err)
		os.Exit(1)
	}
}
