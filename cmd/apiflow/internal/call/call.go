// Package call dispatches one endpoint call of a declared API and prints the
// terminal event.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/broady/apiflow"
	"github.com/broady/apiflow/decl"
	"github.com/broady/apiflow/middleware"
	"golang.org/x/time/rate"
)

type Cmd struct {
	File     string        `arg:"" help:"API declaration (YAML)." type:"existingfile"`
	Endpoint string        `arg:"" help:"Endpoint name."`
	Entity   string        `help:"Entity name, for entity endpoints." short:"e"`
	Payload  string        `help:"Request payload as JSON." short:"d"`
	Timeout  time.Duration `help:"Request timeout." default:"30s"`
	Rate     float64       `help:"Maximum requests per second (0 disables limiting)." default:"0"`
	Verbose  bool          `help:"Log pipeline activity to stderr." short:"v"`
}

// Result is the printed form of a terminal event.
type Result struct {
	Type         string `json:"type"`
	CallID       string `json:"call_id,omitempty"`
	Error        string `json:"error,omitempty"`
	Payload      any    `json:"payload,omitempty"`
	PayloadError string `json:"payload_error,omitempty"`
}

func (c *Cmd) Run() error {
	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := decl.Load(c.File)
	if err != nil {
		return err
	}
	api, err := apiflow.CreateAPI(cfg)
	if err != nil {
		return err
	}

	var payload any
	if c.Payload != "" {
		if err := json.Unmarshal([]byte(c.Payload), &payload); err != nil {
			return fmt.Errorf("parse payload: %w", err)
		}
	}

	var transport apiflow.Transport = apiflow.NewHTTPTransport(&http.Client{Timeout: c.Timeout})
	if c.Rate > 0 {
		transport = apiflow.RateLimited(transport, rate.NewLimiter(rate.Limit(c.Rate), 1))
	}

	ev, err := Dispatch(context.Background(), api, transport, logger, c.Entity, c.Endpoint, payload)
	if err != nil {
		return err
	}
	if err := Print(os.Stdout, ev); err != nil {
		return err
	}
	if ev.IsError {
		return fmt.Errorf("call failed: %v", ev.Error)
	}
	return nil
}

// Dispatch runs one call through a store wired with the logging middleware and
// the pipeline, returning the terminal event.
func Dispatch(ctx context.Context, api *apiflow.API, transport apiflow.Transport, logger *slog.Logger, entity, endpoint string, payload any) (apiflow.Event, error) {
	actions := apiflow.CreateActions(api)
	var create apiflow.ActionCreator
	if entity != "" {
		create = actions.Entities[entity][endpoint]
	} else {
		create = actions.Endpoints[endpoint]
	}
	if create == nil {
		return apiflow.Event{}, fmt.Errorf("unknown endpoint %q", endpointName(entity, endpoint))
	}

	pipeline := apiflow.NewPipeline(api).WithTransport(transport).WithLogger(logger)
	store := apiflow.NewStore(apiflow.CreateReducer(api), nil,
		middleware.Logging(logger),
		pipeline.Middleware(),
	)
	pipeline.WithStateReader(store.Reader())

	ev, ok := store.Dispatch(ctx, create(payload)).(apiflow.Event)
	if !ok {
		return apiflow.Event{}, fmt.Errorf("no terminal event for %s", endpointName(entity, endpoint))
	}
	return ev, nil
}

// Print writes ev as indented JSON.
func Print(w io.Writer, ev apiflow.Event) error {
	res := Result{
		Type:    ev.Type.String(),
		CallID:  ev.CallID,
		Payload: ev.Payload,
	}
	if ev.Error != nil {
		res.Error = ev.Error.Error()
	}
	if ev.HasPayloadError && ev.PayloadError != nil {
		res.PayloadError = ev.PayloadError.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func endpointName(entity, endpoint string) string {
	if entity == "" {
		return endpoint
	}
	return entity + "." + endpoint
}
