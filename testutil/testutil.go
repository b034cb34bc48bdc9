// Package testutil provides fake upstream HTTP servers for testing API clients.
// This package is designed to be import-cycle safe and can be used from any package.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RecordedRequest is a request received by a Server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Server is an httptest server routed with chi that records every request it receives.
type Server struct {
	*httptest.Server
	Router chi.Router

	mu       sync.Mutex
	requests []RecordedRequest
}

// NewServer starts a server that is closed when the test ends.
// Routes are registered on Router, or with the fluent helpers below.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{Router: chi.NewRouter()}
	s.Router.Use(s.record)
	s.Server = httptest.NewServer(s.Router)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Handle registers handler for method and pattern.
func (s *Server) Handle(method, pattern string, handler http.HandlerFunc) *Server {
	s.Router.MethodFunc(method, pattern, handler)
	return s
}

// JSON registers a route answering with status and v encoded as JSON.
func (s *Server) JSON(method, pattern string, status int, v any) *Server {
	return s.Handle(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, v)
	})
}

// Status registers a route answering with an empty body and status.
func (s *Server) Status(method, pattern string, status int) *Server {
	return s.Handle(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// Requests returns a copy of the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request, failing the test if there is none.
func (s *Server) LastRequest(t testing.TB) RecordedRequest {
	t.Helper()
	reqs := s.Requests()
	if len(reqs) == 0 {
		t.Fatal("expected at least one request")
	}
	return reqs[len(reqs)-1]
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// AssertJSONEqual compares two values by their JSON encoding.
// Strings and byte slices are treated as already encoded JSON.
func AssertJSONEqual(t testing.TB, actual, expected any) {
	t.Helper()

	actualStr := canonicalJSON(t, actual)
	expectedStr := canonicalJSON(t, expected)
	if actualStr != expectedStr {
		t.Errorf("JSON mismatch:\nExpected:\n%s\nActual:\n%s", expectedStr, actualStr)
	}
}

// AssertHeader checks that a recorded request header has the expected value.
func AssertHeader(t testing.TB, r RecordedRequest, key, expectedValue string) {
	t.Helper()
	actual := r.Header.Get(key)
	if actual != expectedValue {
		t.Errorf("expected header %s=%s, got %s", key, expectedValue, actual)
	}
}

func canonicalJSON(t testing.TB, v any) string {
	t.Helper()

	var raw []byte
	switch b := v.(type) {
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			t.Fatalf("failed to encode %T: %v", v, err)
		}
	}

	// Compare as JSON to ignore formatting differences
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("invalid JSON %q: %v", raw, err)
	}
	out, _ := json.MarshalIndent(data, "", "  ")
	return string(out)
}

