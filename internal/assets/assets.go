// Package assets stores downloaded audio files on disk, content-addressed
// by a generated UUID rather than the caller-supplied display name (spec
// §3 File, §4.D). Metadata about each asset lives in the database; this
// package only owns the bytes.
package assets

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store manages a flat directory of opaque asset files.
type Store struct {
	rootDir string
}

// NewStore creates an asset store rooted at rootDir, creating it if needed.
func NewStore(rootDir string) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("asset root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	slog.Debug("asset store initialized", "dir", rootDir)
	return &Store{rootDir: rootDir}, nil
}

// Put writes r to disk under a freshly generated name and returns the file's
// id, its path (the store's root directory joined with the generated name),
// and size. ext (e.g. ".wav", ".mp3") is preserved in the
// on-disk file name so a later read can still tell WAV from MP3 by
// extension (spec §3: "file names being opaque unique strings with the
// original extension"; §4.E's decode rule is extension-based). The write
// goes to a temp file in the same directory first and is renamed into
// place, so a reader never observes a partially-written asset.
func (s *Store) Put(r io.Reader, ext string) (id string, path string, size int64, err error) {
	id = uuid.NewString()
	ext = normalizeExt(ext)

	tmp, err := os.CreateTemp(s.rootDir, ".asset-write-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp asset file: %w", err)
	}
	tmpPath := tmp.Name()

	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", "", 0, fmt.Errorf("write asset bytes: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", "", 0, fmt.Errorf("close asset file: %w", closeErr)
	}

	finalPath := filepath.Join(s.rootDir, id+ext)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", "", 0, fmt.Errorf("move asset into place: %w", err)
	}

	slog.Info("asset stored", "asset_id", id, "size", size)
	return id, finalPath, size, nil
}

// normalizeExt lowercases ext and ensures it has a leading dot, defaulting
// to .mp3 when ext is empty (spec §4.E assumes MPEG-1/2 Layer III for
// anything that isn't WAV); any non-empty extension is kept as given.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".mp3"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Open opens an asset file by its on-disk path (as recorded in sound_files).
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset file: %w", err)
	}
	return f, nil
}

// Remove deletes an asset file from disk. Missing files are not an error —
// the caller's transaction may have already been rolled back concurrently.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove asset file: %w", err)
	}
	slog.Debug("asset removed", "path", path)
	return nil
}
