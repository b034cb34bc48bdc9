// Package cache short-circuits endpoint calls with previously received payloads.
//
// Bailout answers a call from a Backend before any request is built, and
// Middleware stores success payloads after the pipeline has emitted them:
//
//	backend := cache.NewMemory(1024, time.Minute)
//	cfg.EndpointDefaults = apiflow.Props{"bailout": cache.Bailout(backend, logger)}
//	store := apiflow.NewStore(reducer, nil, cache.Middleware(backend, time.Minute, logger), pipeline.Middleware())
//
// Payloads answered from the cache are not stored again, so entries expire
// ttl after the request that filled them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/broady/apiflow"
)

// ErrMiss is returned by Backend.Get when no entry exists.
var ErrMiss = errors.New("cache: miss")

// Backend stores payloads by key.
type Backend interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key returns the cache key of a call on the given endpoint with the given payload.
// Payloads are JSON encoded; the key is stable for equal payloads.
func Key(api, entity, endpoint string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return strings.Join([]string{api, entity, endpoint, hex.EncodeToString(sum[:16])}, "|"), nil
}

// Bailout returns a bailout function serving calls from backend. Misses and
// backend errors fall through to the network; errors other than ErrMiss are
// logged. A nil logger uses slog.Default().
func Bailout(backend Backend, logger *slog.Logger) apiflow.BailoutFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, call *apiflow.Call, _ apiflow.StateReader) (any, error) {
		key, err := Key(call.API.Name, call.EntityName(), call.Endpoint, call.Payload)
		if err != nil {
			logger.WarnContext(ctx, "cache key failed",
				slog.String("endpoint", call.EndpointID()),
				slog.Any("error", err))
			return nil, nil
		}
		v, err := backend.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				logger.WarnContext(ctx, "cache get failed",
					slog.String("endpoint", call.EndpointID()),
					slog.Any("error", err))
			}
			return nil, nil
		}
		return v, nil
	}
}

// Middleware stores the payload of every success event passing through it.
// Place it before the pipeline middleware so it sees terminal events.
// Nil payloads are not stored since a nil bailout result is a miss, and events
// answered by a bailout are not stored again. Store errors are logged.
func Middleware(backend Backend, ttl time.Duration, logger *slog.Logger) apiflow.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next apiflow.Dispatch) apiflow.Dispatch {
		return func(ctx context.Context, action any) any {
			res := next(ctx, action)
			ev, ok := res.(apiflow.Event)
			if !ok || ev.Signature != apiflow.Signature || ev.IsError || ev.HasPayloadError || ev.Payload == nil {
				return res
			}
			if ev.Type.Stage != apiflow.StageSuccess || ev.FromBailout {
				return res
			}
			key, err := Key(ev.API, ev.Entity, ev.Endpoint, ev.RequestPayload)
			if err != nil {
				logger.WarnContext(ctx, "cache key failed",
					slog.String("call_id", ev.CallID),
					slog.Any("error", err))
				return res
			}
			if err := backend.Set(ctx, key, ev.Payload, ttl); err != nil {
				logger.WarnContext(ctx, "cache set failed",
					slog.String("call_id", ev.CallID),
					slog.Any("error", err))
			}
			return res
		}
	}
}
