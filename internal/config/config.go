// Package config resolves the engine's runtime configuration: one
// environment variable for the database connection string, one for the
// asset directory, and the UDP bind port as a command-line argument (spec
// §6 Configuration). Missing the database string is not fatal — the
// command entry point falls back to a local SQLite file rather than
// refusing to start, since shares, playlists, menus, and quick commands all
// require the relational store regardless.
package config

import (
	"os"
	"strings"
)

const (
	envDatabaseURL = "VOXD_DATABASE_URL"
	envAssetsDir   = "VOXD_ASSETS_DIR"
)

// Config is the engine's resolved runtime configuration.
type Config struct {
	ListenAddr  string
	DatabaseURL string
	AssetsDir   string
}

// FilesystemOnly reports whether no database connection string was
// configured. The command entry point treats this as "use the default
// local database file", not as a signal to run without persistence —
// every dispatch operation needs the relational store.
func (c Config) FilesystemOnly() bool {
	return strings.TrimSpace(c.DatabaseURL) == ""
}

// Load resolves configuration from the environment plus the already-parsed
// listen address flag.
func Load(listenAddr string) Config {
	return Config{
		ListenAddr:  listenAddr,
		DatabaseURL: strings.TrimSpace(os.Getenv(envDatabaseURL)),
		AssetsDir:   defaultIfEmpty(os.Getenv(envAssetsDir), "./assets"),
	}
}

func defaultIfEmpty(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
