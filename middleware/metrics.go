package middleware

import (
	"context"
	"time"

	"github.com/broady/apiflow"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by the metrics middleware.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeInvalidRequest = "invalid_request"
	OutcomePayloadError   = "payload_error"
)

// Metrics counts endpoint calls and observes their duration.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apiflow",
			Name:      "calls_total",
			Help:      "Endpoint calls by API, endpoint and outcome.",
		}, []string{"api", "endpoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apiflow",
			Name:      "call_duration_seconds",
			Help:      "Time from call dispatch to the terminal event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"api", "endpoint"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware returns the dispatch middleware recording the metrics.
// Like Logging, it must run before the pipeline middleware.
func (m *Metrics) Middleware() apiflow.Middleware {
	return func(next apiflow.Dispatch) apiflow.Dispatch {
		return func(ctx context.Context, action any) any {
			call, ok := callAction(action)
			if !ok {
				return next(ctx, action)
			}

			start := time.Now()
			res := next(ctx, action)

			endpoint := call.Endpoint
			if call.IsEntity {
				endpoint = call.Entity + "." + call.Endpoint
			}
			m.calls.WithLabelValues(call.API, endpoint, outcome(res)).Inc()
			m.duration.WithLabelValues(call.API, endpoint).Observe(time.Since(start).Seconds())
			return res
		}
	}
}

func outcome(res any) string {
	ev, ok := res.(apiflow.Event)
	switch {
	case !ok:
		return OutcomeSuccess
	case ev.Type == apiflow.InvalidRequestToken:
		return OutcomeInvalidRequest
	case ev.IsError:
		return OutcomeFailure
	case ev.HasPayloadError:
		return OutcomePayloadError
	}
	return OutcomeSuccess
}
