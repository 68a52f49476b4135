package usecase

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/forPelevin/hlfeed/internal/usecase"

type telemetry struct {
	tracer            trace.Tracer
	clipsMaterialized metric.Int64Counter
	overlapDropped    metric.Int64Counter
	materializeFailed metric.Int64Counter
	runsFailed        metric.Int64Counter
	itemsQueued       metric.Int64Counter
}

// newTelemetry binds to the global providers, which are no-ops unless the
// CLI installed real ones.
func newTelemetry() telemetry {
	meter := otel.Meter(instrumentationName)
	return telemetry{
		tracer:            otel.Tracer(instrumentationName),
		clipsMaterialized: counter(meter, "hlfeed.clips.materialized", "Clips written to storage"),
		overlapDropped:    counter(meter, "hlfeed.candidates.overlap_dropped", "Candidates dropped for overlapping an existing clip"),
		materializeFailed: counter(meter, "hlfeed.clips.materialize_failed", "Candidates dropped because the transcoder failed"),
		runsFailed:        counter(meter, "hlfeed.processing.failed", "Processing runs that marked their item failed"),
		itemsQueued:       counter(meter, "hlfeed.scan.items_queued", "Media items queued for processing by library scans"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
