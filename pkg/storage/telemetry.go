package storage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/minigu-project/storage/pkg/storage"

// telemetry bundles the OpenTelemetry instruments a GraphHandle reports
// through: commit/abort counters, a GC-reclaimed-entities counter, and a
// checkpoint-duration histogram, plus the tracer used to wrap Commit,
// garbage collection, and checkpoint creation in spans.
type telemetry struct {
	tracer trace.Tracer

	commits    metric.Int64Counter
	aborts     metric.Int64Counter
	reclaimed  metric.Int64Counter
	checkpoint metric.Float64Histogram
}

// newTelemetry wires up a telemetry bundle against the global otel
// providers. Callers that don't configure a provider get otel's no-op
// implementations, so instrumentation is always safe to call and never a
// hard dependency on an observability backend being present.
func newTelemetry() (*telemetry, error) {
	meter := otel.Meter(instrumentationName)

	commits, err := meter.Int64Counter("minigu_storage_commits_total",
		metric.WithDescription("Transactions committed."))
	if err != nil {
		return nil, newErr(KindDurabilityError, "newTelemetry", err)
	}
	aborts, err := meter.Int64Counter("minigu_storage_aborts_total",
		metric.WithDescription("Transactions aborted."))
	if err != nil {
		return nil, newErr(KindDurabilityError, "newTelemetry", err)
	}
	reclaimed, err := meter.Int64Counter("minigu_storage_gc_reclaimed_total",
		metric.WithDescription("Vertices and edges physically reclaimed by garbage collection."))
	if err != nil {
		return nil, newErr(KindDurabilityError, "newTelemetry", err)
	}
	checkpoint, err := meter.Float64Histogram("minigu_storage_checkpoint_duration_seconds",
		metric.WithDescription("Wall-clock duration of CreateCheckpoint calls."))
	if err != nil {
		return nil, newErr(KindDurabilityError, "newTelemetry", err)
	}

	return &telemetry{
		tracer:     otel.Tracer(instrumentationName),
		commits:    commits,
		aborts:     aborts,
		reclaimed:  reclaimed,
		checkpoint: checkpoint,
	}, nil
}

func (t *telemetry) recordCommit() {
	if t == nil {
		return
	}
	t.commits.Add(context.Background(), 1)
}

func (t *telemetry) recordAbort() {
	if t == nil {
		return
	}
	t.aborts.Add(context.Background(), 1)
}

func (t *telemetry) recordReclaimed(n int) {
	if t == nil || n == 0 {
		return
	}
	t.reclaimed.Add(context.Background(), int64(n))
}

func (t *telemetry) recordCheckpointDuration(seconds float64) {
	if t == nil {
		return
	}
	t.checkpoint.Record(context.Background(), seconds)
}

// startSpan is a small convenience wrapper so call sites in engine.go and
// checkpoint.go read as `ctx, end := tel.startSpan(ctx, "Commit")` without
// each one importing trace directly.
func (t *telemetry) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name)
}
