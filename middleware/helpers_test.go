package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/broady/apiflow"
)

// newTestStore builds a store whose pipeline answers every request with status.
func newTestStore(t *testing.T, status int, mws ...apiflow.Middleware) (*apiflow.Store[apiflow.CacheState], apiflow.Actions) {
	t.Helper()

	api, err := apiflow.CreateAPI(apiflow.Config{
		Name: "test",
		URL:  "https://api.example.com",
		Endpoints: map[string]apiflow.Props{
			"login": {"url": "login", "method": "POST"},
		},
	})
	if err != nil {
		t.Fatalf("CreateAPI: %v", err)
	}

	transport := apiflow.TransportFunc(func(ctx context.Context, url string, opts *apiflow.RequestOptions) (*apiflow.Response, error) {
		return &apiflow.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"token":"abc"}`),
		}, nil
	})
	pipeline := apiflow.NewPipeline(api).WithTransport(transport)

	mws = append(mws, pipeline.Middleware())
	store := apiflow.NewStore(apiflow.CreateReducer(api), nil, mws...)
	return store, apiflow.CreateActions(api)
}
