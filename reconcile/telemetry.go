package reconcile

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/royalcat/rgeomatch/reconcile"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

type metrics struct {
	matched    metric.Int64Counter
	unmatched  metric.Int64Counter
	collisions metric.Int64Counter
	query      metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	matched, err := meter.Int64Counter("observations_matched_total")
	if err != nil {
		return nil, err
	}
	unmatched, err := meter.Int64Counter("observations_unmatched_total")
	if err != nil {
		return nil, err
	}
	collisions, err := meter.Int64Counter("reference_collisions_total")
	if err != nil {
		return nil, err
	}
	query, err := meter.Float64Histogram("reconcile_query_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{
		matched:    matched,
		unmatched:  unmatched,
		collisions: collisions,
		query:      query,
	}, nil
}
