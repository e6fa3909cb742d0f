// Package route classifies inbound request paths.
package route

import (
	pathpkg "path"
	"strings"
)

// Kind is the classification of a request path.
type Kind int

const (
	// SPARoute paths receive the SPA entry document.
	SPARoute Kind = iota
	// API paths are forwarded to the backend.
	API
	// Asset paths name a file under the asset root (or try to escape it).
	Asset
	// AssetMiss paths look like files but match none; they get a 404.
	AssetMiss
)

// ContextKey is the echo context key holding the Kind of the current request.
const ContextKey = "route_kind"

func (k Kind) String() string {
	switch k {
	case API:
		return "api"
	case Asset:
		return "asset"
	case AssetMiss:
		return "asset-miss"
	default:
		return "spa-route"
	}
}

// FileSet reports whether a slash-separated path names a known asset file.
type FileSet interface {
	Has(path string) bool
}

// Classifier maps paths to a Kind. It holds no per-request state.
type Classifier struct {
	apiPrefix string
	files     FileSet
	routes    []pattern
}

// NewClassifier creates a Classifier for the given API prefix, asset file
// set and client-side route table. Route entries may use ":name" for a
// single dynamic segment and a trailing "*" for any remainder.
func NewClassifier(apiPrefix string, files FileSet, routes []string) *Classifier {
	c := &Classifier{
		apiPrefix: strings.TrimSuffix(apiPrefix, "/"),
		files:     files,
	}
	for _, r := range routes {
		c.routes = append(c.routes, compile(r))
	}
	return c
}

// Classify returns the Kind of path. Only the path component is inspected;
// a query string or fragment is ignored.
func (c *Classifier) Classify(path string) Kind {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}

	if hasDotDot(path) {
		return Asset
	}
	path = pathpkg.Clean("/" + path)

	if c.IsAPI(path) {
		return API
	}
	if c.files != nil && c.files.Has(path) {
		return Asset
	}
	if c.IsClientRoute(path) {
		return SPARoute
	}
	if !strings.Contains(lastSegment(path), ".") {
		return SPARoute
	}
	return AssetMiss
}

// IsAPI reports whether path falls under the API prefix on a segment boundary.
func (c *Classifier) IsAPI(path string) bool {
	return path == c.apiPrefix || strings.HasPrefix(path, c.apiPrefix+"/")
}

// IsClientRoute reports whether path matches the declared client route table.
func (c *Classifier) IsClientRoute(path string) bool {
	segs := splitPath(path)
	for _, p := range c.routes {
		if p.match(segs) {
			return true
		}
	}
	return false
}

// pattern is a compiled client route.
type pattern struct {
	segs []string
	rest bool
}

func compile(route string) pattern {
	segs := splitPath(route)
	if n := len(segs); n > 0 && segs[n-1] == "*" {
		return pattern{segs: segs[:n-1], rest: true}
	}
	return pattern{segs: segs}
}

func (p pattern) match(segs []string) bool {
	if len(segs) < len(p.segs) || (!p.rest && len(segs) != len(p.segs)) {
		return false
	}
	for i, want := range p.segs {
		if strings.HasPrefix(want, ":") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if !strings.EqualFold(want, segs[i]) {
			return false
		}
	}
	// A dotted final segment is a file request unless a literal segment names it.
	last := len(segs) - 1
	if last >= 0 && strings.Contains(segs[last], ".") {
		if last >= len(p.segs) || strings.HasPrefix(p.segs[last], ":") {
			return false
		}
	}
	return true
}

// splitPath splits a path into segments, ignoring a trailing slash.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

func hasDotDot(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
