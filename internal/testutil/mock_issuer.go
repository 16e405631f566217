// Package testutil provides testing utilities for the token pipeline.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one scripted response from a mock issuance endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockIssuer is a configurable mock issuance endpoint. Responses can be
// scripted per account uid and are consumed in order; accounts without a
// script get the default response (a valid token).
type MockIssuer struct {
	server *httptest.Server

	mu          sync.Mutex
	scripts     map[string][]MockResponse
	defaultResp *MockResponse

	// Tracking
	RequestCount int
	UIDsSeen     []string
}

// NewMockIssuer starts a mock issuance server.
func NewMockIssuer() *MockIssuer {
	mock := &MockIssuer{
		scripts: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL, usable as an endpoint base URL.
func (m *MockIssuer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockIssuer) Close() {
	m.server.Close()
}

// Script queues responses for the given uid, consumed one per request.
func (m *MockIssuer) Script(uid string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[uid] = append(m.scripts[uid], responses...)
}

// SetDefault overrides the fallback response for unscripted requests.
func (m *MockIssuer) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &resp
}

// Requests returns the number of requests served so far.
func (m *MockIssuer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockIssuer) handle(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")

	m.mu.Lock()
	m.RequestCount++
	m.UIDsSeen = append(m.UIDsSeen, uid)

	var resp MockResponse
	switch {
	case len(m.scripts[uid]) > 0:
		resp = m.scripts[uid][0]
		m.scripts[uid] = m.scripts[uid][1:]
	case m.defaultResp != nil:
		resp = *m.defaultResp
	default:
		resp = MockResponse{
			StatusCode: http.StatusOK,
			Body:       fmt.Sprintf(`{"token":"tok-%s"}`, uid),
		}
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}
