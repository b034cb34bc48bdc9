package apiflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
)

// sentRequest is one request seen by fakeTransport.
type sentRequest struct {
	URL  string
	Opts *RequestOptions
	Body string
}

// fakeTransport records requests and answers them with respond.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	respond func(url string, opts *RequestOptions) (*Response, error)
}

func newFakeTransport(respond func(url string, opts *RequestOptions) (*Response, error)) *fakeTransport {
	return &fakeTransport{respond: respond}
}

// respondJSON returns a fakeTransport answering every request with status and v as JSON.
func respondJSON(status int, v any) *fakeTransport {
	return newFakeTransport(func(string, *RequestOptions) (*Response, error) {
		return jsonResponse(status, v), nil
	})
}

func (f *fakeTransport) Send(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	var body string
	if opts != nil && opts.Body != nil {
		b, _ := io.ReadAll(opts.Body)
		body = string(b)
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{URL: url, Opts: opts, Body: body})
	f.mu.Unlock()
	return f.respond(url, opts)
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentRequest, len(f.sent))
	copy(out, f.sent)
	return out
}

func jsonResponse(status int, v any) *Response {
	data, _ := json.Marshal(v)
	return &Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:       data,
	}
}

// recorder is the terminal Dispatch of a test chain; it keeps every action it receives.
type recorder struct {
	mu      sync.Mutex
	actions []any
}

func (r *recorder) dispatch(_ context.Context, action any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return action
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, a := range r.actions {
		if ev, ok := a.(Event); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) types() []Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Token, 0, len(r.actions))
	for _, a := range r.actions {
		_, typ, _, _, _, _ := lifecycle(a)
		out = append(out, typ)
	}
	return out
}

func mustCreateAPI(t *testing.T, cfg Config) *API {
	t.Helper()
	api, err := CreateAPI(cfg)
	if err != nil {
		t.Fatalf("CreateAPI: %v", err)
	}
	return api
}

// dispatchWith runs action through a pipeline for api using transport and
// returns the result and every action that reached the recorder.
func dispatchWith(t *testing.T, api *API, transport Transport, action any) (any, *recorder) {
	t.Helper()
	rec := &recorder{}
	dispatch := NewPipeline(api).WithTransport(transport).Middleware()(rec.dispatch)
	return dispatch(context.Background(), action), rec
}

// widgetsConfig declares the entity used across the request and pipeline tests.
func widgetsConfig() Config {
	return Config{
		Name: "API",
		URL:  "https://api.example.com/v1",
		Entities: map[string]EntityConfig{
			"widgets": {Name: "widgets", URLPrefix: "widgets"},
		},
		EntityEndpoints: map[string]Props{
			"get": {"url": func(p any) any { return fmt.Sprint(p.(map[string]any)["id"]) }},
		},
		Endpoints: map[string]Props{
			"login": {"url": "login", "method": "POST"},
		},
	}
}

// assertEqualJSON compares two values by their JSON encoding.
func assertEqualJSON(t *testing.T, got, want any) {
	t.Helper()
	g, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("encode %T: %v", got, err)
	}
	w, _ := json.Marshal(want)
	if string(g) != string(w) {
		t.Errorf("got %s, want %s", g, w)
	}
}
