package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ScriptedResponse is one canned upstream reply.
type ScriptedResponse struct {
	Status int
	Body   string
	Delay  time.Duration // sleep before replying, for timeout tests
}

// JSON is a shorthand for a 200 reply with body.
func JSON(body string) ScriptedResponse {
	return ScriptedResponse{Status: http.StatusOK, Body: body}
}

// Status is a shorthand for a reply with an error-ish body.
func Status(code int) ScriptedResponse {
	return ScriptedResponse{Status: code, Body: http.StatusText(code)}
}

// ScriptedUpstream is an httptest server that replays responses in order and
// records the requests it saw. Once the script is exhausted the last response
// repeats.
type ScriptedUpstream struct {
	*httptest.Server

	mu       sync.Mutex
	script   []ScriptedResponse
	requests []*http.Request
}

// NewScriptedUpstream starts a server that is closed with the test.
func NewScriptedUpstream(t *testing.T, script ...ScriptedResponse) *ScriptedUpstream {
	t.Helper()

	u := &ScriptedUpstream{script: script}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Close)
	return u
}

func (u *ScriptedUpstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	idx := len(u.requests)
	u.requests = append(u.requests, r.Clone(r.Context()))
	var resp ScriptedResponse
	switch {
	case len(u.script) == 0:
		resp = JSON("{}")
	case idx < len(u.script):
		resp = u.script[idx]
	default:
		resp = u.script[len(u.script)-1]
	}
	u.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

// Hits returns how many requests were served.
func (u *ScriptedUpstream) Hits() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

// Paths returns the request paths in arrival order.
func (u *ScriptedUpstream) Paths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.requests))
	for i, r := range u.requests {
		out[i] = r.URL.Path
	}
	return out
}

// Request returns the i-th recorded request.
func (u *ScriptedUpstream) Request(i int) *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[i]
}
