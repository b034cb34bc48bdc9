package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/broady/apiflow"
)

// Logging creates a middleware that logs endpoint calls using slog.
// It logs the start and end of each call, including duration and error status.
// Place it before the pipeline middleware so it sees the terminal event.
func Logging(logger *slog.Logger) apiflow.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next apiflow.Dispatch) apiflow.Dispatch {
		return func(ctx context.Context, action any) any {
			call, ok := callAction(action)
			if !ok {
				return next(ctx, action)
			}

			start := time.Now()

			logger.InfoContext(ctx, "request started",
				slog.String("endpoint", call.EndpointID()),
			)

			res := next(ctx, action)
			duration := time.Since(start)

			ev, isEvent := res.(apiflow.Event)
			switch {
			case isEvent && ev.IsError:
				logger.ErrorContext(ctx, "request failed",
					slog.String("endpoint", call.EndpointID()),
					slog.String("call_id", ev.CallID),
					slog.Duration("duration", duration),
					slog.Any("error", ev.Error),
				)
			case isEvent && ev.HasPayloadError:
				logger.WarnContext(ctx, "request completed with payload error",
					slog.String("endpoint", call.EndpointID()),
					slog.String("call_id", ev.CallID),
					slog.Duration("duration", duration),
					slog.Any("error", ev.PayloadError),
				)
			default:
				logger.InfoContext(ctx, "request completed",
					slog.String("endpoint", call.EndpointID()),
					slog.String("call_id", ev.CallID),
					slog.Duration("duration", duration),
				)
			}

			return res
		}
	}
}

func callAction(action any) (apiflow.CallAction, bool) {
	switch a := action.(type) {
	case apiflow.CallAction:
		return a, a.Signature == apiflow.Signature
	case *apiflow.CallAction:
		if a != nil {
			return *a, a.Signature == apiflow.Signature
		}
	}
	return apiflow.CallAction{}, false
}
