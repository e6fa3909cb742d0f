package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"spa-gateway/internal/config"
	"spa-gateway/internal/model"
)

// contentTypes is the fixed extension-to-MIME mapping for served files.
var contentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".js":          "text/javascript; charset=utf-8",
	".mjs":         "text/javascript; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".webmanifest": "application/manifest+json",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "application/xml",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".avif":        "image/avif",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".wasm":        "application/wasm",
	".pdf":         "application/pdf",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
	".mp3":         "audio/mpeg",
}

const defaultContentType = "application/octet-stream"

// ContentType returns the MIME type for name based on its extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// File is an opened asset ready to be served. The caller must Close it.
type File struct {
	*os.File
	Name        string
	ContentType string
	ModTime     time.Time
	Size        int64
}

// Server resolves request paths to files under the asset root.
type Server struct {
	root  string
	index string
}

// NewServer creates a Server for the configured asset root.
func NewServer(cfg *config.Config) *Server {
	return &Server{root: cfg.Assets.Root, index: cfg.Assets.Index}
}

// Open resolves urlPath under the root. Paths with ".." segments fail with
// model.ErrAssetForbidden; missing files and directories fail with
// model.ErrAssetNotFound. Resolution goes through os.Root, so symlinks
// cannot escape the root either.
func (s *Server) Open(urlPath string) (*File, error) {
	for _, seg := range strings.FieldsFunc(urlPath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return nil, model.ErrAssetForbidden
		}
	}
	if strings.ContainsRune(urlPath, 0) {
		return nil, model.ErrAssetForbidden
	}

	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return nil, model.ErrAssetNotFound
	}
	return s.open(name)
}

// OpenEntry opens the SPA entry document.
func (s *Server) OpenEntry() (*File, error) {
	return s.open(s.index)
}

func (s *Server) open(name string) (*File, error) {
	root, err := os.OpenRoot(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.Wrap(model.ErrAssetNotFound, err)
		}
		return nil, fmt.Errorf("open asset root: %w", err)
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, model.Wrap(model.ErrAssetNotFound, err)
		case isEscape(err):
			return nil, model.Wrap(model.ErrAssetForbidden, err)
		default:
			return nil, fmt.Errorf("open asset %s: %w", name, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat asset %s: %w", name, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, model.ErrAssetNotFound
	}

	return &File{
		File:        f,
		Name:        name,
		ContentType: ContentType(name),
		ModTime:     info.ModTime(),
		Size:        info.Size(),
	}, nil
}

// isEscape reports whether err is os.Root refusing a path outside the root.
func isEscape(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe) && strings.Contains(pe.Err.Error(), "escapes from parent")
}
