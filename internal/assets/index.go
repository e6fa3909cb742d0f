// Package assets serves the pre-built SPA bundle from a local directory.
package assets

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"spa-gateway/internal/config"
)

// Index is the set of regular files under the asset root, keyed by their
// slash-separated URL path ("/assets/app.js"). It is safe for concurrent use.
type Index struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	files map[string]struct{}
}

// NewIndex scans the asset root. A missing root is not an error: the index
// stays empty and every request falls back to SPA routing or 404s.
func NewIndex(cfg *config.Config, logger *slog.Logger) (*Index, error) {
	idx := &Index{
		root:   cfg.Assets.Root,
		logger: logger.With("component", "asset_index"),
		files:  map[string]struct{}{},
	}
	if err := idx.Rescan(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(idx.root, cfg.Assets.Index)); err != nil {
		idx.logger.Warn("entry document missing; SPA routes will return 404",
			"root", idx.root,
			"index", cfg.Assets.Index,
		)
	}
	return idx, nil
}

// Root returns the asset root directory.
func (i *Index) Root() string { return i.root }

// Has reports whether p names a file in the index.
func (i *Index) Has(p string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.files[p]
	return ok
}

// Len returns the number of indexed files.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.files)
}

// Rescan rebuilds the index from disk and swaps it in atomically.
func (i *Index) Rescan() error {
	files := map[string]struct{}{}

	err := filepath.WalkDir(i.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == i.root && os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() && !isFileLink(p, d) {
			return nil
		}
		rel, err := filepath.Rel(i.root, p)
		if err != nil {
			return err
		}
		files[path.Join("/", filepath.ToSlash(rel))] = struct{}{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan asset root %s: %w", i.root, err)
	}

	i.mu.Lock()
	i.files = files
	i.mu.Unlock()

	i.logger.Debug("asset index rebuilt", "root", i.root, "files", len(files))
	return nil
}

// isFileLink reports whether d is a symlink resolving to a regular file.
// Whether the target stays inside the root is checked when serving.
func isFileLink(p string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
