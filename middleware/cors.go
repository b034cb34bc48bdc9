package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/broady/apiflow"
)

// CORSConfig configures the request mode and credentials policy enforced by CORS.
type CORSConfig struct {
	// Origin is the origin requests are made from, e.g. "https://app.example.com".
	// It is sent as the Origin header of cross-origin requests.
	Origin string

	// SimpleMethods are the methods allowed in "no-cors" mode.
	// Default: ["GET", "HEAD", "POST"]
	SimpleMethods []string
}

// Errors reported by the CORS transport. The pipeline wraps them in a transport error.
var (
	ErrCrossOrigin = errors.New("cross-origin request in same-origin mode")
	ErrCORSDenied  = errors.New("response not allowed by CORS policy")
)

// CORS wraps a transport so that the mode and credentials request properties,
// which the net/http transport ignores, follow browser semantics:
//
//   - mode "same-origin" rejects requests to another origin
//   - mode "no-cors" only allows simple methods
//   - mode "cors" (the default for cross-origin requests) sends an Origin header and
//     requires a matching Access-Control-Allow-Origin response header, plus
//     Access-Control-Allow-Credentials when credentials are "include"
//   - credentials "omit" strips Cookie and Authorization headers, as does
//     "same-origin" for cross-origin requests
func CORS(cfg *CORSConfig, next apiflow.Transport) apiflow.Transport {
	if cfg == nil {
		cfg = &CORSConfig{}
	}

	simpleMethods := cfg.SimpleMethods
	if len(simpleMethods) == 0 {
		simpleMethods = []string{"GET", "HEAD", "POST"}
	}
	origin := strings.TrimSuffix(cfg.Origin, "/")

	return apiflow.TransportFunc(func(ctx context.Context, target string, opts *apiflow.RequestOptions) (*apiflow.Response, error) {
		if opts == nil {
			opts = &apiflow.RequestOptions{}
		}
		crossOrigin := origin != "" && !sameOrigin(origin, target)

		req := *opts
		req.Headers = opts.Headers.Clone()
		if req.Headers == nil {
			req.Headers = make(http.Header)
		}

		if req.Credentials == "omit" || (req.Credentials == "same-origin" && crossOrigin) {
			req.Headers.Del("Cookie")
			req.Headers.Del("Authorization")
		}

		switch req.Mode {
		case "same-origin":
			if crossOrigin {
				return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, target)
			}
		case "no-cors":
			method := strings.ToUpper(req.Method)
			if method == "" {
				method = http.MethodGet
			}
			if !contains(simpleMethods, method) {
				return nil, fmt.Errorf("method %s not allowed in no-cors mode", method)
			}
		}

		if !crossOrigin || req.Mode == "no-cors" {
			return next.Send(ctx, target, &req)
		}

		req.Headers.Set("Origin", origin)
		resp, err := next.Send(ctx, target, &req)
		if err != nil || resp == nil {
			return resp, err
		}

		// Check if origin is allowed
		allowOrigin := resp.Header.Get("Access-Control-Allow-Origin")
		allowed := allowOrigin == origin || (allowOrigin == "*" && req.Credentials != "include")
		if !allowed {
			return nil, fmt.Errorf("%w: origin %s", ErrCORSDenied, origin)
		}
		if req.Credentials == "include" && resp.Header.Get("Access-Control-Allow-Credentials") != "true" {
			return nil, fmt.Errorf("%w: credentials not allowed", ErrCORSDenied)
		}
		return resp, nil
	})
}

func sameOrigin(origin, target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Scheme+"://"+u.Host, origin)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
