package apiflow

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Property names an entry of an endpoint or defaults declaration.
type Property string

// Request properties, resolved into RequestOptions by BuildRequest.
const (
	PropURL         Property = "url"
	PropMethod      Property = "method"
	PropHeaders     Property = "headers"
	PropQuery       Property = "query"
	PropBody        Property = "body"
	PropMode        Property = "mode"
	PropCredentials Property = "credentials"
	PropCache       Property = "cache"
	PropRedirect    Property = "redirect"
	PropReferrer    Property = "referrer"
	PropIntegrity   Property = "integrity"
)

// Response behaviour properties, used by the dispatch pipeline.
const (
	PropBailout Property = "bailout"
	PropPayload Property = "payload"
	PropError   Property = "error"
	PropSchema  Property = "schema"
)

// RequestProperties lists the request properties in resolution order.
var RequestProperties = []Property{
	PropURL, PropMethod, PropHeaders, PropQuery, PropBody, PropMode,
	PropCredentials, PropCache, PropRedirect, PropReferrer, PropIntegrity,
}

// ResponseProperties lists the response behaviour properties.
var ResponseProperties = []Property{PropBailout, PropPayload, PropError, PropSchema}

func isKnownProperty(name string) bool {
	for _, p := range RequestProperties {
		if string(p) == name {
			return true
		}
	}
	for _, p := range ResponseProperties {
		if string(p) == name {
			return true
		}
	}
	return false
}

// Props is a raw endpoint or defaults declaration. Each value is either a literal
// or a function of one of the shapes accepted for that property:
//
//	request properties: Resolver, func(any, *Call) (any, error), func(any) any
//	bailout:            BailoutFunc, func(*Call, StateReader) (any, error), func(*Call) (any, error)
//	payload, error:     ParserFunc, func(*Response, *Call, any) (any, error)
//	schema:             SchemaFunc, func(Schema) (any, error), func(Schema) any
type Props map[string]any

// Resolver computes a request property from the call payload.
type Resolver func(payload any, call *Call) (any, error)

// BailoutFunc decides whether a call can be answered without a network request.
// A result other than nil or false is emitted as the success payload.
// ctx is the dispatch context and carries the call (see CallFromContext).
type BailoutFunc func(ctx context.Context, call *Call, state StateReader) (any, error)

// ParserFunc turns a transport response into an event payload.
type ParserFunc func(resp *Response, call *Call, schema any) (any, error)

// SchemaFunc derives the schema descriptor handed to the payload parser from the
// entity's schema (nil for custom endpoints).
type SchemaFunc func(entity Schema) (any, error)

// StateReader returns the current state of the store a pipeline feeds.
type StateReader func() any

// Bag is a compiled Props: every literal has been wrapped in a constant function.
// A nil *Bag behaves as an empty bag.
type Bag struct {
	request map[Property]Resolver
	bailout BailoutFunc
	payload ParserFunc
	error   ParserFunc
	schema  SchemaFunc
}

// Resolver returns the resolver declared for a request property, or nil.
func (b *Bag) Resolver(p Property) Resolver {
	if b == nil {
		return nil
	}
	return b.request[p]
}

// Bailout returns the declared bailout function, or nil.
func (b *Bag) Bailout() BailoutFunc {
	if b == nil {
		return nil
	}
	return b.bailout
}

// Payload returns the declared success parser, or nil.
func (b *Bag) Payload() ParserFunc {
	if b == nil {
		return nil
	}
	return b.payload
}

// ErrorParser returns the declared failure parser, or nil.
func (b *Bag) ErrorParser() ParserFunc {
	if b == nil {
		return nil
	}
	return b.error
}

// Schema returns the declared schema function, or nil.
func (b *Bag) Schema() SchemaFunc {
	if b == nil {
		return nil
	}
	return b.schema
}

// compileProps validates the property names of a declaration and normalizes its
// values. Bags declaring neither payload nor error get ParseJSON as payload parser.
func compileProps(name string, props Props) (*Bag, error) {
	bag := &Bag{request: make(map[Property]Resolver)}
	for key, value := range props {
		if !isKnownProperty(key) {
			return nil, ConfigurationError("invalid property %q for %s", key, name)
		}
		var err error
		switch p := Property(key); p {
		case PropBailout:
			bag.bailout, err = toBailout(value)
		case PropPayload:
			bag.payload, err = toParser(value)
		case PropError:
			bag.error, err = toParser(value)
		case PropSchema:
			bag.schema, err = toSchema(value)
		default:
			bag.request[p], err = toResolver(value)
		}
		if err != nil {
			return nil, ConfigurationError("property %q for %s: %v", key, name, err)
		}
	}
	if bag.payload == nil && bag.error == nil {
		bag.payload = ParseJSON
	}
	return bag, nil
}

// Constant returns a resolver that always yields v.
func Constant(v any) Resolver {
	return func(any, *Call) (any, error) { return v, nil }
}

func toResolver(v any) (Resolver, error) {
	switch fn := v.(type) {
	case nil:
		return nil, fmt.Errorf("value is nil")
	case Resolver:
		return fn, nil
	case func(any, *Call) (any, error):
		return fn, nil
	case func(any) (any, error):
		return func(payload any, _ *Call) (any, error) { return fn(payload) }, nil
	case func(any) any:
		return func(payload any, _ *Call) (any, error) { return fn(payload), nil }, nil
	case func() any:
		return func(any, *Call) (any, error) { return fn(), nil }, nil
	default:
		return Constant(v), nil
	}
}

func toBailout(v any) (BailoutFunc, error) {
	switch fn := v.(type) {
	case nil:
		return nil, fmt.Errorf("value is nil")
	case BailoutFunc:
		return fn, nil
	case func(context.Context, *Call, StateReader) (any, error):
		return fn, nil
	case func(*Call, StateReader) (any, error):
		return func(_ context.Context, call *Call, state StateReader) (any, error) { return fn(call, state) }, nil
	case func(*Call) (any, error):
		return func(_ context.Context, call *Call, _ StateReader) (any, error) { return fn(call) }, nil
	default:
		return func(context.Context, *Call, StateReader) (any, error) { return v, nil }, nil
	}
}

func toParser(v any) (ParserFunc, error) {
	switch fn := v.(type) {
	case nil:
		return nil, fmt.Errorf("value is nil")
	case ParserFunc:
		return fn, nil
	case func(*Response, *Call, any) (any, error):
		return fn, nil
	case func(*Response) (any, error):
		return func(resp *Response, _ *Call, _ any) (any, error) { return fn(resp) }, nil
	default:
		return func(*Response, *Call, any) (any, error) { return v, nil }, nil
	}
}

func toSchema(v any) (SchemaFunc, error) {
	switch fn := v.(type) {
	case nil:
		return nil, fmt.Errorf("value is nil")
	case SchemaFunc:
		return fn, nil
	case func(Schema) (any, error):
		return fn, nil
	case func(Schema) any:
		return func(s Schema) (any, error) { return fn(s), nil }, nil
	default:
		return func(Schema) (any, error) { return v, nil }, nil
	}
}

// firstResolver returns the first non-nil resolver for p across the layers.
func firstResolver(p Property, layers ...*Bag) Resolver {
	for _, l := range layers {
		if r := l.Resolver(p); r != nil {
			return r
		}
	}
	return nil
}

// safely runs fn, converting a panic into an error.
func safely(fn func() (any, error)) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = InternalError(fmt.Errorf("panic: %v", rec)).WithDetail("stack", string(debug.Stack()))
		}
	}()
	return fn()
}
