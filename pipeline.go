package apiflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
)

// Dispatch hands an action to the next stage and returns that stage's result.
type Dispatch func(ctx context.Context, action any) any

// Middleware wraps a Dispatch.
type Middleware func(next Dispatch) Dispatch

// Chain combines middlewares into one. The first middleware is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Dispatch) Dispatch {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](next)
			}
		}
		return next
	}
}

// Pipeline turns CallActions into transport requests and lifecycle events.
//
// For an intercepted call the pipeline:
//  1. resolves the target entity and endpoint, emitting an invalid-request event
//     and stopping when either is unknown
//  2. forwards the CallAction unchanged (the request stage)
//  3. runs the bailout, if any; a non-nil, non-false result is emitted as success
//     with FromBailout set
//  4. builds the request and sends it through the Transport
//  5. classifies the response ([200, 399] is success), parses the payload and
//     emits exactly one success or failure event
//
// Errors never escape: every failure becomes an event. Dispatch blocks until the
// terminal event has been forwarded and returns it; concurrent dispatches share
// no mutable state.
type Pipeline struct {
	mu        sync.RWMutex
	apis      map[string]*API
	transport Transport
	logger    *slog.Logger
	getState  StateReader
}

// NewPipeline creates a pipeline for the given definitions, sending requests with
// a default HTTPTransport.
func NewPipeline(apis ...*API) *Pipeline {
	p := &Pipeline{
		apis:      make(map[string]*API, len(apis)),
		transport: NewHTTPTransport(nil),
	}
	for _, api := range apis {
		p.register(api)
	}
	return p
}

// CreateMiddleware is NewPipeline(apis...).Middleware().
func CreateMiddleware(apis ...*API) Middleware {
	return NewPipeline(apis...).Middleware()
}

func (p *Pipeline) register(api *API) {
	if api == nil {
		return
	}
	if _, exists := p.apis[api.Name]; exists {
		p.log().Warn("duplicate API registration",
			slog.String("api", api.Name))
	}
	p.apis[api.Name] = api
}

// WithTransport sets the transport used for network requests.
func (p *Pipeline) WithTransport(t Transport) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transport = t
	return p
}

// WithLogger sets a custom logger. If not set, slog.Default() is used.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
	return p
}

// WithStateReader sets the state reader passed to bailout functions.
// Store.Reader() is the usual source.
func (p *Pipeline) WithStateReader(r StateReader) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getState = r
	return p
}

func (p *Pipeline) log() *slog.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Middleware returns the pipeline as a middleware stage.
func (p *Pipeline) Middleware() Middleware {
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, action any) any {
			call, ok := p.intercept(action)
			if !ok {
				return next(ctx, action)
			}
			return p.dispatch(ctx, next, call)
		}
	}
}

// intercept returns the action as a CallAction if it is a request-stage call to one
// of the pipeline's definitions. Unknown targets are left to resolve.
func (p *Pipeline) intercept(action any) (CallAction, bool) {
	var call CallAction
	switch a := action.(type) {
	case CallAction:
		call = a
	case *CallAction:
		if a == nil {
			return CallAction{}, false
		}
		call = *a
	default:
		return CallAction{}, false
	}
	if call.Signature != Signature || call.Type.Stage != StageRequest {
		return CallAction{}, false
	}
	p.mu.RLock()
	_, ok := p.apis[call.API]
	p.mu.RUnlock()
	if !ok {
		return CallAction{}, false
	}
	return call, true
}

// target is the resolved destination of a call.
type target struct {
	api    *API
	entity *Entity
	layers Layers
	tokens StageTokens
}

func (p *Pipeline) resolve(action CallAction) (*target, *Error) {
	p.mu.RLock()
	api := p.apis[action.API]
	p.mu.RUnlock()

	if !action.IsEntity {
		bag, ok := api.Endpoints[action.Endpoint]
		if !ok {
			return nil, InvalidRequestError("invalid endpoint: %s", action.Endpoint)
		}
		return &target{
			api:    api,
			layers: Layers{Endpoint: bag, EndpointDefaults: api.EndpointDefaults, Defaults: api.Defaults},
			tokens: api.Types.Custom[action.Endpoint],
		}, nil
	}

	entity, ok := api.Entities[action.Entity]
	if !ok {
		return nil, InvalidRequestError("invalid entity: %s", action.Entity)
	}
	bag, ok := api.EntityEndpoints[action.Endpoint]
	if !ok {
		return nil, InvalidRequestError("invalid endpoint: %s for entity %s", action.Endpoint, action.Entity)
	}
	return &target{
		api:    api,
		entity: entity,
		layers: Layers{Endpoint: bag, EndpointDefaults: api.EntityEndpointDefaults, Defaults: api.Defaults},
		tokens: api.Types.Entities[entity.Name][action.Endpoint],
	}, nil
}

func (p *Pipeline) dispatch(ctx context.Context, next Dispatch, action CallAction) Event {
	logger := p.log()

	tgt, invalid := p.resolve(action)
	if invalid != nil {
		logger.WarnContext(ctx, "invalid request",
			slog.String("api", action.API),
			slog.String("entity", action.Entity),
			slog.String("endpoint", action.Endpoint),
			slog.Any("error", invalid))
		ev := Event{
			Signature:      Signature,
			Type:           InvalidRequestToken,
			API:            action.API,
			IsEntity:       action.IsEntity,
			Entity:         action.Entity,
			Endpoint:       action.Endpoint,
			RequestPayload: action.RequestPayload,
			IsError:        true,
			Error:          invalid,
		}
		next(ctx, ev)
		return ev
	}

	next(ctx, action)

	call := newCall(tgt.api, tgt.entity, action.Endpoint, action.RequestPayload)
	ev := p.run(ctx, tgt, call)
	next(ctx, ev)
	return ev
}

// run performs the bailout, request and parsing steps and returns the terminal event.
func (p *Pipeline) run(ctx context.Context, tgt *target, call *Call) Event {
	logger := p.log().With(
		slog.String("endpoint", call.EndpointID()),
		slog.String("call_id", call.ID))

	success := func(payload any) Event {
		ev := newEvent(tgt.tokens.Success, call)
		ev.Payload = payload
		return ev
	}
	failure := func(err error) Event {
		ev := newEvent(tgt.tokens.Failure, call)
		ev.IsError = true
		ev.Error = err
		return ev
	}

	layers := tgt.layers.all()
	callCtx := NewCallContext(ctx, call)

	var bailout BailoutFunc
	for _, l := range layers {
		if bailout = l.Bailout(); bailout != nil {
			break
		}
	}
	if bailout != nil {
		state := p.stateReader()
		v, err := safely(func() (any, error) { return bailout(callCtx, call, state) })
		if err != nil {
			logRecovered(ctx, logger, err)
			logger.DebugContext(ctx, "bailout failed", slog.Any("error", err))
			return failure(InternalError(err))
		}
		if v != nil && v != false {
			logger.DebugContext(ctx, "bailout hit")
			ev := success(v)
			ev.FromBailout = true
			return ev
		}
	}

	opts := BuildOptions{
		StripTrailingSlash: tgt.api.Options.StripTrailingSlash,
		Camelize:           tgt.api.Options.Camelize,
		Decamelize:         tgt.api.Options.Decamelize,
		BodyType:           tgt.api.Options.BodyType,
	}
	if tgt.entity != nil {
		opts.URLPrefix = tgt.entity.URLPrefix
		opts.URLPostfix = tgt.entity.URLPostfix
	}
	req, err := BuildRequest(tgt.api.URL, tgt.layers, call.Payload, call, opts)
	if err != nil {
		logRecovered(ctx, logger, err)
		return failure(InternalError(err))
	}

	p.mu.RLock()
	transport := p.transport
	p.mu.RUnlock()

	v, err := safely(func() (any, error) { return transport.Send(callCtx, req.URL, req) })
	resp, _ := v.(*Response)
	if err == nil && resp == nil {
		err = Errorf(CodeInternal, "transport returned no response")
	}
	if err != nil {
		logger.WarnContext(ctx, "transport failed", slog.String("url", req.URL), slog.Any("error", err))
		return failure(TransportError(err, "%s %s", methodOrGet(req.Method), req.URL))
	}

	var ev Event
	var parser ParserFunc
	if resp.OK() {
		ev = success(nil)
		parser = pickParser(layers, (*Bag).Payload, (*Bag).ErrorParser)
	} else {
		ev = failure(TransportError(nil, "%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)).
			WithDetail("status", resp.StatusCode))
		parser = pickParser(layers, (*Bag).ErrorParser, (*Bag).Payload)
	}
	if parser == nil {
		return ev
	}

	var schema any
	if resp.OK() {
		var schemaFn SchemaFunc
		for _, l := range layers {
			if schemaFn = l.Schema(); schemaFn != nil {
				break
			}
		}
		if schemaFn != nil {
			var entitySchema Schema
			if tgt.entity != nil {
				entitySchema = tgt.entity.Schema
			}
			s, err := safely(func() (any, error) { return schemaFn(entitySchema) })
			if err != nil {
				logRecovered(ctx, logger, err)
				ev.HasPayloadError = true
				ev.PayloadError = err
				return ev
			}
			schema = s
		}
	}

	payload, err := safely(func() (any, error) { return parser(resp, call, schema) })
	if err != nil {
		logRecovered(ctx, logger, err)
		logger.DebugContext(ctx, "payload parsing failed", slog.Any("error", err))
		ev.HasPayloadError = true
		ev.PayloadError = err
		return ev
	}
	ev.Payload = payload
	return ev
}

// logRecovered logs errors produced by a recovered panic.
func logRecovered(ctx context.Context, logger *slog.Logger, err error) {
	var e *Error
	if !errors.As(err, &e) {
		return
	}
	if stack, ok := e.Details["stack"].(string); ok {
		logger.ErrorContext(ctx, "panic recovered",
			slog.String("error", e.Message),
			slog.String("stack", stack))
	}
}

func (p *Pipeline) stateReader() StateReader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.getState != nil {
		return p.getState
	}
	return func() any { return nil }
}

// pickParser walks the layers from the endpoint down and, within each layer,
// prefers the primary slot over the fallback slot.
func pickParser(layers []*Bag, primary, fallback func(*Bag) ParserFunc) ParserFunc {
	for _, l := range layers {
		if fn := primary(l); fn != nil {
			return fn
		}
		if fn := fallback(l); fn != nil {
			return fn
		}
	}
	return nil
}

func newEvent(t Token, call *Call) Event {
	return Event{
		Signature:      Signature,
		Type:           t,
		CallID:         call.ID,
		API:            call.API.Name,
		IsEntity:       call.IsEntity,
		Entity:         call.EntityName(),
		Endpoint:       call.Endpoint,
		RequestPayload: call.Payload,
	}
}

func methodOrGet(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return m
}
