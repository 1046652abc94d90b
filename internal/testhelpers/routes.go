package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// RoutedUpstream is an httptest server answering by path prefix. The longest
// matching prefix wins; unmatched paths get 404. Safe for concurrent requests.
type RoutedUpstream struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]ScriptedResponse
	hits   map[string]int
	urls   []*url.URL
}

// NewRoutedUpstream starts a server that is closed with the test. Route
// prefixes are written without the leading slash, e.g. "hslt/list".
func NewRoutedUpstream(t *testing.T, routes map[string]ScriptedResponse) *RoutedUpstream {
	t.Helper()

	u := &RoutedUpstream{routes: routes, hits: make(map[string]int)}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

func (u *RoutedUpstream) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	u.mu.Lock()
	u.urls = append(u.urls, r.URL)
	best := ""
	for prefix := range u.routes {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	resp, ok := u.routes[best]
	if ok {
		u.hits[best]++
	}
	u.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

// Hits returns how many requests matched prefix.
func (u *RoutedUpstream) Hits(prefix string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[prefix]
}

// URLs returns every request URL in arrival order.
func (u *RoutedUpstream) URLs() []*url.URL {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*url.URL(nil), u.urls...)
}
