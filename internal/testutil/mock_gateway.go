// Package testutil provides a fake Aircall gateway for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// BasePath is the route prefix the mock serves resources under.
const BasePath = "/aircall_oauth"

// MockResponse overrides the paginated behavior of a resource.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockGateway is a configurable paginated gateway for testing.
//
// Each resource holds an ordered list of page payloads. Page N (1-based, from
// the "page" query parameter) is served with meta.next_page_link pointing at
// page N+1 while more pages exist.
type MockGateway struct {
	server *httptest.Server
	mu     sync.RWMutex

	pages     map[string][]map[string]any
	overrides map[string]MockResponse
	endless   map[string]func(page int) map[string]any

	// Tracking
	requests    map[string]int
	lastHeaders http.Header
}

// NewMockGateway starts a new mock gateway.
func NewMockGateway() *MockGateway {
	m := &MockGateway{
		pages:     make(map[string][]map[string]any),
		overrides: make(map[string]MockResponse),
		endless:   make(map[string]func(page int) map[string]any),
		requests:  make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the gateway base route, suitable for client.Config.BaseURL.
func (m *MockGateway) URL() string {
	return m.server.URL + BasePath
}

// Close shuts down the mock server.
func (m *MockGateway) Close() {
	m.server.Close()
}

// SetPages replaces the pages served for a resource such as "teams".
func (m *MockGateway) SetPages(resource string, pages ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[resource] = pages
}

// SetEndless serves a resource that always offers a next page.
func (m *MockGateway) SetEndless(resource string, page func(n int) map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endless[resource] = page
}

// SetResponse makes every request to a resource return resp.
func (m *MockGateway) SetResponse(resource string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[resource] = resp
}

// RequestCount returns the number of requests served for a resource.
func (m *MockGateway) RequestCount(resource string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[resource]
}

// LastHeaders returns the headers of the most recent request.
func (m *MockGateway) LastHeaders() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeaders.Clone()
}

func (m *MockGateway) handle(w http.ResponseWriter, r *http.Request) {
	resource := strings.Trim(strings.TrimPrefix(r.URL.Path, BasePath), "/")
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	m.mu.Lock()
	m.requests[resource]++
	m.lastHeaders = r.Header.Clone()
	override, hasOverride := m.overrides[resource]
	pages, hasPages := m.pages[resource]
	endless := m.endless[resource]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if hasOverride {
		if override.Delay > 0 {
			select {
			case <-time.After(override.Delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	var payload map[string]any
	hasNext := false
	switch {
	case endless != nil:
		payload = endless(page)
		hasNext = true
	case hasPages && page <= len(pages):
		payload = pages[page-1]
		hasNext = page < len(pages)
	default:
		http.Error(w, fmt.Sprintf(`{"error":"no page %d for %s"}`, page, resource), http.StatusNotFound)
		return
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	meta := map[string]any{"current_page": page, "next_page_link": nil}
	if hasNext {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page+1))
		meta["next_page_link"] = m.server.URL + r.URL.Path + "?" + q.Encode()
	}
	body["meta"] = meta

	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
