package apiflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/broady/apiflow/internal/casing"
	"github.com/broady/apiflow/internal/form"
)

// RequestOptions is the fully resolved request handed to a Transport.
// Properties that no layer declares are left at their zero value.
type RequestOptions struct {
	URL         string
	Method      string
	Headers     http.Header
	Query       string
	Body        io.Reader
	Mode        string
	Credentials string
	Cache       string
	Redirect    string
	Referrer    string
	Integrity   string
}

// Layers are the declaration layers consulted for one call, highest priority first.
type Layers struct {
	Endpoint         *Bag
	EndpointDefaults *Bag
	Defaults         *Bag
}

func (l Layers) all() []*Bag {
	return []*Bag{l.Endpoint, l.EndpointDefaults, l.Defaults}
}

// BuildOptions carries the API and entity settings that shape a request.
type BuildOptions struct {
	URLPrefix          string
	URLPostfix         string
	StripTrailingSlash bool
	Camelize           CaseOptions
	Decamelize         CaseOptions
	BodyType           BodyType
}

// BuildRequest resolves every request property through the layers and assembles the
// final request. Errors returned by resolvers are propagated as is.
func BuildRequest(baseURL string, layers Layers, payload any, call *Call, opts BuildOptions) (*RequestOptions, error) {
	resolved := make(map[Property]any, len(RequestProperties))
	for _, p := range RequestProperties {
		r := firstResolver(p, layers.all()...)
		if r == nil {
			continue
		}
		v, err := safely(func() (any, error) { return r(payload, call) })
		if err != nil {
			return nil, err
		}
		resolved[p] = v
	}

	relative := ""
	if v, ok := resolved[PropURL]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, Errorf(CodeInternal, "url resolved to %T, want string", v)
		}
		relative = s
	}

	req := &RequestOptions{
		URL: joinURL(baseURL, opts.URLPrefix, relative, opts.URLPostfix),
	}
	if opts.StripTrailingSlash {
		req.URL = strings.TrimSuffix(req.URL, "/")
	}

	var err error
	if req.Method, err = stringProp(resolved, PropMethod); err != nil {
		return nil, err
	}
	if req.Mode, err = stringProp(resolved, PropMode); err != nil {
		return nil, err
	}
	if req.Credentials, err = stringProp(resolved, PropCredentials); err != nil {
		return nil, err
	}
	if req.Cache, err = stringProp(resolved, PropCache); err != nil {
		return nil, err
	}
	if req.Redirect, err = stringProp(resolved, PropRedirect); err != nil {
		return nil, err
	}
	if req.Referrer, err = stringProp(resolved, PropReferrer); err != nil {
		return nil, err
	}
	if req.Integrity, err = stringProp(resolved, PropIntegrity); err != nil {
		return nil, err
	}
	if req.Headers, err = toHeader(resolved[PropHeaders]); err != nil {
		return nil, err
	}

	if q := resolved[PropQuery]; q != nil {
		if req.Query, err = encodeQuery(q, opts); err != nil {
			return nil, err
		}
		if req.Query != "" {
			req.URL += "?" + req.Query
		}
	}

	if b := resolved[PropBody]; b != nil {
		if req.Body, err = encodeBody(b, opts); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// joinURL joins the non-empty parts with single slashes. One leading and one
// trailing slash is trimmed from every part.
func joinURL(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "/" {
			continue
		}
		p = strings.TrimPrefix(p, "/")
		p = strings.TrimSuffix(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

func stringProp(resolved map[Property]any, p Property) (string, error) {
	v, ok := resolved[p]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Errorf(CodeInternal, "%s resolved to %T, want string", p, v)
	}
	return s, nil
}

func toHeader(v any) (http.Header, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case http.Header:
		return t.Clone(), nil
	case map[string][]string:
		return http.Header(t).Clone(), nil
	case map[string]string:
		h := make(http.Header, len(t))
		for k, s := range t {
			h.Set(k, s)
		}
		return h, nil
	case map[string]any:
		h := make(http.Header, len(t))
		for k, item := range t {
			switch iv := item.(type) {
			case nil:
			case []any:
				for _, s := range iv {
					h.Add(k, fmt.Sprint(s))
				}
			case []string:
				for _, s := range iv {
					h.Add(k, s)
				}
			default:
				h.Set(k, fmt.Sprint(iv))
			}
		}
		return h, nil
	default:
		return nil, Errorf(CodeInternal, "headers resolved to %T, want a map", v)
	}
}

func encodeQuery(q any, opts BuildOptions) (string, error) {
	if s, ok := q.(string); ok {
		return strings.TrimPrefix(s, "?"), nil
	}
	vals, err := form.Values(q)
	if err != nil {
		return "", InternalError(err)
	}
	if opts.Camelize.Query {
		vals = form.RenameKeys(vals, casing.Camelize)
	}
	if opts.Decamelize.Query {
		vals = form.RenameKeys(vals, casing.Decamelize)
	}
	return vals.Encode(), nil
}

// encodeBody leaves native bodies alone and encodes objects per BodyType.
func encodeBody(b any, opts BuildOptions) (io.Reader, error) {
	switch t := b.(type) {
	case io.Reader:
		return t, nil
	case []byte:
		return bytes.NewReader(t), nil
	case string:
		return strings.NewReader(t), nil
	case url.Values:
		return strings.NewReader(t.Encode()), nil
	case json.RawMessage:
		return bytes.NewReader(t), nil
	}

	if opts.Camelize.Body || opts.Decamelize.Body {
		generic, err := toGeneric(b)
		if err != nil {
			return nil, InternalError(err)
		}
		if opts.Camelize.Body {
			generic = casing.CamelizeKeys(generic)
		}
		if opts.Decamelize.Body {
			generic = casing.DecamelizeKeys(generic)
		}
		b = generic
	}

	if opts.BodyType == BodyURLEncoded {
		vals, err := form.Values(b)
		if err != nil {
			return nil, InternalError(err)
		}
		return strings.NewReader(vals.Encode()), nil
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, InternalError(fmt.Errorf("encode body: %w", err))
	}
	return bytes.NewReader(data), nil
}

// toGeneric converts structs and typed maps into map[string]any / []any trees so
// their keys can be rewritten.
func toGeneric(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
	default:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
