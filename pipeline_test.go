package apiflow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/broady/apiflow/testutil"
)

func TestPipeline_Success(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	transport := respondJSON(http.StatusOK, map[string]any{"id": 42, "name": "gear"})
	action := CreateActions(api).Entities["widgets"]["get"](map[string]any{"id": 42})

	res, rec := dispatchWith(t, api, transport, action)

	tokens := api.Types.Entities["widgets"]["get"]
	types := rec.types()
	if len(types) != 2 || types[0] != tokens.Request || types[1] != tokens.Success {
		t.Fatalf("expected request then success, got %v", types)
	}
	if forwarded, ok := rec.actions[0].(CallAction); !ok || forwarded.Type != action.Type || forwarded.Endpoint != action.Endpoint {
		t.Errorf("expected the call action to be forwarded unchanged, got %+v", rec.actions[0])
	}

	ev := res.(Event)
	if ev.CallID != rec.events()[0].CallID {
		t.Error("expected Dispatch to return the emitted event")
	}
	if ev.IsError || ev.HasPayloadError {
		t.Fatalf("unexpected error event %+v", ev)
	}
	if ev.CallID == "" {
		t.Error("expected a call id")
	}
	if ev.Entity != "widgets" || !ev.IsEntity || ev.Endpoint != "get" || ev.API != "API" {
		t.Errorf("unexpected routing fields %+v", ev)
	}
	assertEqualJSON(t, ev.Payload, map[string]any{"id": 42, "name": "gear"})

	sent := transport.requests()
	if len(sent) != 1 || sent[0].URL != "https://api.example.com/v1/widgets/42" {
		t.Errorf("unexpected requests %+v", sent)
	}
}

func TestPipeline_NoContent(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	transport := newFakeTransport(func(string, *RequestOptions) (*Response, error) {
		return &Response{StatusCode: http.StatusNoContent}, nil
	})

	res, _ := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

	ev := res.(Event)
	if ev.Type != api.Types.Custom["login"].Success {
		t.Errorf("expected success, got %s", ev.Type)
	}
	if ev.Payload != nil || ev.HasPayloadError || ev.PayloadError != nil {
		t.Errorf("expected nil payload and no payload error, got %+v", ev)
	}
}

func TestPipeline_Failure(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	transport := respondJSON(http.StatusUnauthorized, map[string]string{"message": "bad credentials"})

	res, rec := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

	ev := res.(Event)
	if ev.Type != api.Types.Custom["login"].Failure || len(rec.actions) != 2 {
		t.Fatalf("expected request then failure, got %v", rec.types())
	}
	if !ev.IsError || !HasCode(ev.Error, CodeTransport) {
		t.Errorf("expected transport error, got %v", ev.Error)
	}
	if ev.Error.Error() != "transport: 401 Unauthorized" {
		t.Errorf("unexpected error message %q", ev.Error)
	}
	var e *Error
	if !errors.As(ev.Error, &e) || e.Details["status"] != http.StatusUnauthorized {
		t.Errorf("expected status detail, got %v", ev.Error)
	}
	// The default parser also handles the failure body.
	assertEqualJSON(t, ev.Payload, map[string]string{"message": "bad credentials"})
}

func TestPipeline_TransportError(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	refused := errors.New("connection refused")
	transport := newFakeTransport(func(string, *RequestOptions) (*Response, error) {
		return nil, refused
	})

	res, _ := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

	ev := res.(Event)
	if ev.Type != api.Types.Custom["login"].Failure {
		t.Fatalf("expected failure, got %s", ev.Type)
	}
	if !HasCode(ev.Error, CodeTransport) || !errors.Is(ev.Error, refused) {
		t.Errorf("expected wrapped transport error, got %v", ev.Error)
	}
	if !strings.Contains(ev.Error.Error(), "POST https://api.example.com/v1/login") {
		t.Errorf("expected method and url in error, got %v", ev.Error)
	}
}

func TestPipeline_InvalidRequest(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	transport := respondJSON(http.StatusOK, nil)

	tests := []struct {
		name   string
		action CallAction
	}{
		{"unknown endpoint", func() CallAction {
			a := CreateActions(api).Endpoints["login"](nil)
			a.Endpoint = "doesNotExist"
			return a
		}()},
		{"unknown entity", func() CallAction {
			a := CreateActions(api).Entities["widgets"]["get"](nil)
			a.Entity = "gadgets"
			return a
		}()},
		{"unknown entity endpoint", func() CallAction {
			a := CreateActions(api).Entities["widgets"]["get"](nil)
			a.Endpoint = "list"
			return a
		}()},
		{"endpoint with its own token", CallAction{
			Signature:      Signature,
			Type:           Token{API: "API", Endpoint: "doesNotExist", Stage: StageRequest},
			API:            "API",
			Endpoint:       "doesNotExist",
			RequestPayload: "payload",
		}},
		{"entity with its own token", CallAction{
			Signature: Signature,
			Type:      Token{API: "API", Entity: "gadgets", Endpoint: "get", Stage: StageRequest},
			API:       "API",
			IsEntity:  true,
			Entity:    "gadgets",
			Endpoint:  "get",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, rec := dispatchWith(t, api, transport, tt.action)

			if _, ok := res.(Event); !ok {
				t.Fatalf("expected an event, got %T", res)
			}
			if len(rec.actions) != 1 {
				t.Fatalf("expected exactly one emitted action, got %v", rec.types())
			}
			ev := res.(Event)
			if ev.Type != InvalidRequestToken || !ev.IsError {
				t.Errorf("expected invalid request event, got %+v", ev)
			}
			if !HasCode(ev.Error, CodeInvalidRequest) {
				t.Errorf("expected invalid request error, got %v", ev.Error)
			}
			if ev.RequestPayload != tt.action.RequestPayload {
				t.Error("expected request payload on the event")
			}
		})
	}
	if n := len(transport.requests()); n != 0 {
		t.Errorf("expected no transport calls, got %d", n)
	}
}

func TestPipeline_PassThrough(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	other := mustCreateAPI(t, Config{Name: "other", URL: "https://other.example.com", Endpoints: map[string]Props{"login": {"url": "x"}}})
	transport := respondJSON(http.StatusOK, nil)

	actions := []any{
		"plain",
		nil,
		CreateActions(other).Endpoints["login"](nil),
		Event{Signature: Signature, Type: api.Types.Custom["login"].Success, API: "API"},
		CallAction{Signature: Signature, Type: api.Types.Custom["login"].Success, API: "API", Endpoint: "login"},
	}
	for _, action := range actions {
		res, rec := dispatchWith(t, api, transport, action)
		if len(rec.actions) != 1 || res != action {
			t.Errorf("expected %v to pass through unchanged", action)
		}
	}
	if n := len(transport.requests()); n != 0 {
		t.Errorf("expected no transport calls, got %d", n)
	}
}

func TestPipeline_Bailout(t *testing.T) {
	cfg := widgetsConfig()
	cfg.Endpoints["login"]["bailout"] = func(call *Call, state StateReader) (any, error) {
		return "cached-value", nil
	}
	api := mustCreateAPI(t, cfg)
	transport := respondJSON(http.StatusOK, nil)

	res, rec := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

	tokens := api.Types.Custom["login"]
	types := rec.types()
	if len(types) != 2 || types[0] != tokens.Request || types[1] != tokens.Success {
		t.Fatalf("expected request then one success, got %v", types)
	}
	if res.(Event).Payload != "cached-value" {
		t.Errorf("expected bailout payload, got %v", res.(Event).Payload)
	}
	if !res.(Event).FromBailout {
		t.Error("expected the event to be marked as answered by the bailout")
	}
	if n := len(transport.requests()); n != 0 {
		t.Errorf("expected no transport calls, got %d", n)
	}
}

func TestPipeline_BailoutMiss(t *testing.T) {
	for _, miss := range []any{nil, false} {
		cfg := widgetsConfig()
		cfg.EndpointDefaults = Props{"bailout": func(*Call) (any, error) { return miss, nil }}
		api := mustCreateAPI(t, cfg)
		transport := respondJSON(http.StatusOK, "fresh")

		res, _ := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

		if res.(Event).Payload != "fresh" {
			t.Errorf("bailout %v: expected network payload, got %v", miss, res.(Event).Payload)
		}
		if n := len(transport.requests()); n != 1 {
			t.Errorf("bailout %v: expected 1 transport call, got %d", miss, n)
		}
	}
}

func TestPipeline_BailoutContext(t *testing.T) {
	type ctxKey struct{}
	cfg := widgetsConfig()
	var gotValue any
	var gotCall *Call
	cfg.Endpoints["login"]["bailout"] = func(ctx context.Context, call *Call, _ StateReader) (any, error) {
		gotValue = ctx.Value(ctxKey{})
		gotCall, _ = CallFromContext(ctx)
		if gotCall != call {
			return nil, errors.New("call missing from context")
		}
		return nil, nil
	}
	api := mustCreateAPI(t, cfg)
	transport := respondJSON(http.StatusOK, "fresh")

	rec := &recorder{}
	dispatch := NewPipeline(api).WithTransport(transport).Middleware()(rec.dispatch)
	ctx := context.WithValue(context.Background(), ctxKey{}, "outer")
	ev := dispatch(ctx, CreateActions(api).Endpoints["login"](nil)).(Event)

	if gotValue != "outer" {
		t.Errorf("expected the dispatch context, got value %v", gotValue)
	}
	if gotCall == nil || gotCall.ID != ev.CallID {
		t.Errorf("expected call %s in context, got %+v", ev.CallID, gotCall)
	}
	if ev.IsError || ev.FromBailout {
		t.Errorf("expected a network success, got %+v", ev)
	}
}

func TestPipeline_BailoutState(t *testing.T) {
	cfg := widgetsConfig()
	cfg.Endpoints["login"]["bailout"] = BailoutFunc(func(_ context.Context, call *Call, state StateReader) (any, error) {
		return state(), nil
	})
	api := mustCreateAPI(t, cfg)

	rec := &recorder{}
	p := NewPipeline(api).
		WithTransport(respondJSON(http.StatusOK, nil)).
		WithStateReader(func() any { return "current-state" })
	res := p.Middleware()(rec.dispatch)(context.Background(), CreateActions(api).Endpoints["login"](nil))

	if res.(Event).Payload != "current-state" {
		t.Errorf("expected bailout to read state, got %v", res.(Event).Payload)
	}
}

func TestPipeline_BailoutError(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		bailout BailoutFunc
	}{
		{"error", func(context.Context, *Call, StateReader) (any, error) { return nil, boom }},
		{"panic", func(context.Context, *Call, StateReader) (any, error) { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := widgetsConfig()
			cfg.Endpoints["login"]["bailout"] = tt.bailout
			api := mustCreateAPI(t, cfg)
			transport := respondJSON(http.StatusOK, nil)

			res, rec := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

			ev := res.(Event)
			if ev.Type != api.Types.Custom["login"].Failure || len(rec.actions) != 2 {
				t.Fatalf("expected request then failure, got %v", rec.types())
			}
			if !HasCode(ev.Error, CodeInternal) {
				t.Errorf("expected internal error, got %v", ev.Error)
			}
			if n := len(transport.requests()); n != 0 {
				t.Errorf("expected no transport calls, got %d", n)
			}
		})
	}
}

func TestPipeline_RequestBuildError(t *testing.T) {
	cfg := widgetsConfig()
	cfg.Endpoints["login"]["body"] = func(any) (any, error) { return nil, errors.New("no body") }
	api := mustCreateAPI(t, cfg)
	transport := respondJSON(http.StatusOK, nil)

	res, _ := dispatchWith(t, api, transport, CreateActions(api).Endpoints["login"](nil))

	ev := res.(Event)
	if ev.Type != api.Types.Custom["login"].Failure || !HasCode(ev.Error, CodeInternal) {
		t.Errorf("expected internal failure, got %+v", ev)
	}
	if n := len(transport.requests()); n != 0 {
		t.Errorf("expected no transport calls, got %d", n)
	}
}

func TestPipeline_ParserSelection(t *testing.T) {
	payloadParser := ParserFunc(func(*Response, *Call, any) (any, error) { return "payload-parser", nil })
	errorParser := ParserFunc(func(*Response, *Call, any) (any, error) { return "error-parser", nil })

	tests := []struct {
		name     string
		endpoint Props
		defaults Props
		status   int
		want     any
	}{
		{"success uses payload", Props{"payload": payloadParser, "error": errorParser}, nil, 200, "payload-parser"},
		{"failure uses error", Props{"payload": payloadParser, "error": errorParser}, nil, 500, "error-parser"},
		{"success falls back to error slot", Props{"error": errorParser}, nil, 200, "error-parser"},
		{"failure falls back to payload slot", Props{"payload": payloadParser}, nil, 500, "payload-parser"},
		{"endpoint layer wins", Props{"payload": payloadParser}, Props{"error": errorParser}, 500, "payload-parser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := widgetsConfig()
			for k, v := range tt.endpoint {
				cfg.Endpoints["login"][k] = v
			}
			cfg.EndpointDefaults = tt.defaults
			api := mustCreateAPI(t, cfg)

			res, _ := dispatchWith(t, api, respondJSON(tt.status, nil), CreateActions(api).Endpoints["login"](nil))
			if got := res.(Event).Payload; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPipeline_PayloadError(t *testing.T) {
	parseErr := errors.New("cannot parse")
	tests := []struct {
		name   string
		parser any
		status int
	}{
		{"success error", func(*Response) (any, error) { return nil, parseErr }, 200},
		{"failure error", func(*Response) (any, error) { return nil, parseErr }, 500},
		{"panic", func(*Response) (any, error) { panic("bad parser") }, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := widgetsConfig()
			cfg.Endpoints["login"]["payload"] = tt.parser
			api := mustCreateAPI(t, cfg)

			res, _ := dispatchWith(t, api, respondJSON(tt.status, nil), CreateActions(api).Endpoints["login"](nil))

			ev := res.(Event)
			if !ev.HasPayloadError || ev.PayloadError == nil {
				t.Fatalf("expected payload error, got %+v", ev)
			}
			if ev.Payload != nil {
				t.Errorf("expected no payload, got %v", ev.Payload)
			}
			tokens := api.Types.Custom["login"]
			if tt.status == 200 && (ev.Type != tokens.Success || ev.IsError) {
				t.Errorf("expected success classification to stand, got %+v", ev)
			}
			if tt.status == 500 && (ev.Type != tokens.Failure || !HasCode(ev.Error, CodeTransport)) {
				t.Errorf("expected primary transport error to stand, got %+v", ev)
			}
		})
	}
}

func TestPipeline_Schema(t *testing.T) {
	var gotSchema any
	cfg := widgetsConfig()
	cfg.Entities["widgets"] = EntityConfig{Schema: keySchema("widgets"), URLPrefix: "widgets"}
	cfg.EntityEndpoints["get"]["schema"] = func(s Schema) any { return "list-of-" + s.Key() }
	cfg.EntityEndpoints["get"]["payload"] = func(resp *Response, call *Call, schema any) (any, error) {
		gotSchema = schema
		return "ok", nil
	}
	api := mustCreateAPI(t, cfg)

	action := CreateActions(api).Entities["widgets"]["get"](map[string]any{"id": 1})
	dispatchWith(t, api, respondJSON(200, nil), action)

	if gotSchema != "list-of-widgets" {
		t.Errorf("expected schema descriptor, got %v", gotSchema)
	}
}

func TestPipeline_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := widgetsConfig()
	cfg.Endpoints["login"]["payload"] = func(*Response) (any, error) { panic("bad parser") }
	api := mustCreateAPI(t, cfg)

	rec := &recorder{}
	p := NewPipeline(api).WithTransport(respondJSON(200, nil)).WithLogger(logger)
	dispatch := p.Middleware()(rec.dispatch)
	dispatch(context.Background(), CreateActions(api).Endpoints["login"](nil))

	action := CreateActions(api).Endpoints["login"](nil)
	action.Endpoint = "doesNotExist"
	dispatch(context.Background(), action)

	out := buf.String()
	for _, want := range []string{"panic recovered", "bad parser", "invalid request", "doesNotExist"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestPipeline_HTTP(t *testing.T) {
	srv := testutil.NewServer(t).Handle("POST", "/v1/login", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, http.StatusOK, map[string]any{"access_token": "abc"})
	})

	cfg := widgetsConfig()
	cfg.URL = srv.URL + "/v1"
	cfg.Options.Decamelize.Body = true
	cfg.Options.Camelize.Response = true
	cfg.Endpoints["login"]["body"] = func(p any) any { return p }
	cfg.Endpoints["login"]["headers"] = map[string]string{"Content-Type": "application/json"}
	api := mustCreateAPI(t, cfg)

	p := NewPipeline(api).WithTransport(NewHTTPTransport(srv.Client()))
	res := p.Middleware()((&recorder{}).dispatch)(context.Background(),
		CreateActions(api).Endpoints["login"](map[string]any{"userName": "ann"}))

	ev := res.(Event)
	if ev.IsError {
		t.Fatalf("unexpected error: %v", ev.Error)
	}
	assertEqualJSON(t, ev.Payload, map[string]any{"accessToken": "abc"})

	req := srv.LastRequest(t)
	testutil.AssertJSONEqual(t, req.Body, `{"user_name":"ann"}`)
	testutil.AssertHeader(t, req, "Content-Type", "application/json")
}

func TestPipeline_Concurrent(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	transport := respondJSON(http.StatusOK, "ok")
	rec := &recorder{}
	dispatch := NewPipeline(api).WithTransport(transport).Middleware()(rec.dispatch)
	login := CreateActions(api).Endpoints["login"]

	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = dispatch(context.Background(), login(i)).(Event).CallID
		}()
	}
	wg.Wait()

	if len(rec.actions) != 2*n {
		t.Errorf("expected %d emitted actions, got %d", 2*n, len(rec.actions))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate call id %s", id)
		}
		seen[id] = true
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Dispatch) Dispatch {
			return func(ctx context.Context, action any) any {
				order = append(order, name)
				return next(ctx, action)
			}
		}
	}
	rec := &recorder{}
	Chain(mw("a"), nil, mw("b"))(rec.dispatch)(context.Background(), "x")

	if strings.Join(order, ",") != "a,b" {
		t.Errorf("expected a,b, got %v", order)
	}
}

func TestCreateMiddleware(t *testing.T) {
	api := mustCreateAPI(t, widgetsConfig())
	rec := &recorder{}
	res := CreateMiddleware(api)(rec.dispatch)(context.Background(), "not a call")
	if res != "not a call" {
		t.Errorf("expected pass through, got %v", res)
	}
}
