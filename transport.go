package apiflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Response is what a Transport returns. The body is fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the media type of the response, without parameters.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// OK reports whether the status code is in [200, 399].
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 399
}

// Transport sends a built request.
type Transport interface {
	Send(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string, opts *RequestOptions) (*Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, url, opts)
}

const (
	defaultTransportTimeout = 30 * time.Second

	// defaultMaxResponseBodySize bounds how much of a response body is buffered.
	defaultMaxResponseBodySize = 10 << 20
)

// ErrRedirect is returned when a redirect is received with the "error" redirect policy.
var ErrRedirect = errors.New("redirect not allowed")

// HTTPTransport sends requests with net/http.
//
// Mode, credentials and integrity have no net/http equivalent and are ignored.
// The referrer becomes a Referer header, the cache policy a Cache-Control header,
// and the redirect policy ("follow", "error" or "manual") controls redirect handling.
type HTTPTransport struct {
	client      *http.Client
	maxBodySize int64
}

// NewHTTPTransport creates a transport. A nil client gets a 30s timeout client.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultTransportTimeout}
	}
	return &HTTPTransport{
		client:      client,
		maxBodySize: defaultMaxResponseBodySize,
	}
}

// WithMaxResponseBodySize sets the largest response body that will be read.
// A value of 0 means no limit.
func (t *HTTPTransport) WithMaxResponseBodySize(size int64) *HTTPTransport {
	t.maxBodySize = size
	return t
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, opts.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Referrer != "" && opts.Referrer != "no-referrer" {
		req.Header.Set("Referer", opts.Referrer)
	}
	if cc := cacheControl(opts.Cache); cc != "" && req.Header.Get("Cache-Control") == "" {
		req.Header.Set("Cache-Control", cc)
	}

	client := t.client
	switch opts.Redirect {
	case "error", "manual":
		c := *t.client
		policy := opts.Redirect
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			if policy == "error" {
				return ErrRedirect
			}
			return http.ErrUseLastResponse
		}
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if t.maxBodySize > 0 {
		body = io.LimitReader(resp.Body, t.maxBodySize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if t.maxBodySize > 0 && int64(len(data)) > t.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", t.maxBodySize)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func cacheControl(policy string) string {
	switch policy {
	case "no-store":
		return "no-store"
	case "no-cache", "reload":
		return "no-cache"
	default:
		return ""
	}
}

// RateLimited wraps a transport so that every send first waits on limiter.
// A cancelled context while waiting is reported as a transport error.
func RateLimited(next Transport, limiter *rate.Limiter) Transport {
	return TransportFunc(func(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		return next.Send(ctx, url, opts)
	})
}
