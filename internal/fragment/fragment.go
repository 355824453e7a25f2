// Package fragment holds the page fragment exchanged between the panel server
// and the navigation layer, and the cache shared by the router and the preloader.
package fragment

import (
	"net/url"
	"strings"
)

// DefaultEndpoint is the path prefix of the fragment endpoint.
const DefaultEndpoint = "/api/page-content"

// Fragment is the renderable part of one route plus its metadata.
// A cached Fragment is never mutated.
type Fragment struct {
	Content string            `json:"content"`
	Title   string            `json:"title"`
	Scripts []string          `json:"scripts"`
	Styles  []string          `json:"styles"`
	Meta    map[string]string `json:"meta"`
}

// Size approximates the payload size in bytes.
func (f *Fragment) Size() int {
	n := len(f.Content) + len(f.Title)
	for _, s := range f.Scripts {
		n += len(s)
	}
	for _, s := range f.Styles {
		n += len(s)
	}
	for k, v := range f.Meta {
		n += len(k) + len(v)
	}
	return n
}

// NormalizePath reduces a URL or path to the route path used as the cache
// and history key: query and hash dropped, trailing slashes stripped, and
// the root kept as "/".
func NormalizePath(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// EndpointPath returns the fragment endpoint path for a route path.
func EndpointPath(endpoint, path string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	path = NormalizePath(path)
	if path == "/" {
		return endpoint + "/"
	}
	return endpoint + path
}

// RoutePath is the inverse of EndpointPath. ok is false when reqPath is not
// under the endpoint.
func RoutePath(endpoint, reqPath string) (path string, ok bool) {
	endpoint = strings.TrimRight(endpoint, "/")
	if reqPath != endpoint && !strings.HasPrefix(reqPath, endpoint+"/") {
		return "", false
	}
	return NormalizePath(strings.TrimPrefix(reqPath, endpoint)), true
}
