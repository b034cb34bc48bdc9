package apiflow

import (
	"context"
	"net/http"
)

type contextKey struct {
	name string
}

var callKey = &contextKey{"call"}

// NewCallContext returns a context carrying call. The pipeline hands such a
// context to bailout functions and the Transport, so they can read the call they serve.
func NewCallContext(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callKey, call)
}

// CallFromContext returns the call being served, if any.
func CallFromContext(ctx context.Context) (*Call, bool) {
	call, ok := ctx.Value(callKey).(*Call)
	return call, ok && call != nil
}

// WithRequestID wraps a transport so that every request carries the call id in
// header (e.g. "X-Request-ID"), unless the request already sets it.
func WithRequestID(next Transport, header string) Transport {
	return TransportFunc(func(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
		call, ok := CallFromContext(ctx)
		if !ok {
			return next.Send(ctx, url, opts)
		}
		req := RequestOptions{}
		if opts != nil {
			req = *opts
		}
		if req.Headers.Get(header) != "" {
			return next.Send(ctx, url, opts)
		}
		req.Headers = req.Headers.Clone()
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}
		req.Headers.Set(header, call.ID)
		return next.Send(ctx, url, &req)
	})
}
