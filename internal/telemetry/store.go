package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/types"
)

const ledgerScopeName = "github.com/strawtrace/strawtrace/ledger"

// InstrumentedStore wraps ledger.Store with OTel tracing and metrics.
// Every method gets a span and is counted in strawtrace.ledger.* metrics.
type InstrumentedStore struct {
	inner  ledger.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	rows   metric.Int64Counter
}

var _ ledger.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s ledger.Store) ledger.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s, Meter(ledgerScopeName), Tracer(ledgerScopeName))
}

func newInstrumentedStore(s ledger.Store, m metric.Meter, tr trace.Tracer) *InstrumentedStore {
	ops, _ := m.Int64Counter("strawtrace.ledger.operations",
		metric.WithDescription("Total ledger operations executed"),
	)
	dur, _ := m.Float64Histogram("strawtrace.ledger.operation.duration",
		metric.WithDescription("Ledger operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("strawtrace.ledger.errors",
		metric.WithDescription("Total ledger operation errors"),
	)
	rows, _ := m.Int64Counter("strawtrace.ledger.rows_read",
		metric.WithDescription("Records and leak-rate rows returned by reads"),
	)
	return &InstrumentedStore{inner: s, tracer: tr, ops: ops, dur: dur, errs: errs, rows: rows}
}

// op starts a span and records a metric for the named ledger operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("ledger.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(all...))
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Find(ctx context.Context, batch string) ([]types.Record, error) {
	attrs := []attribute.KeyValue{attribute.String("straw.batch", batch)}
	ctx, span, t := s.op(ctx, "Find", attrs...)
	v, err := s.inner.Find(ctx, batch)
	s.rows.Add(ctx, int64(len(v)), metric.WithAttributes(attrs...))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) AppendEvent(ctx context.Context, batch, step string, pairs []types.Pair, actors []string) error {
	attrs := []attribute.KeyValue{
		attribute.String("straw.batch", batch),
		attribute.String("straw.step", step),
		attribute.Int("straw.pairs", len(pairs)),
	}
	ctx, span, t := s.op(ctx, "AppendEvent", attrs...)
	err := s.inner.AppendEvent(ctx, batch, step, pairs, actors)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) LatestMembership(ctx context.Context, batch string) ([]types.Slot, error) {
	attrs := []attribute.KeyValue{attribute.String("straw.batch", batch)}
	ctx, span, t := s.op(ctx, "LatestMembership", attrs...)
	v, err := s.inner.LatestMembership(ctx, batch)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) FindQualityEntries(ctx context.Context, unit string) ([]types.QualityMeasurement, error) {
	attrs := []attribute.KeyValue{attribute.String("straw.unit", unit)}
	ctx, span, t := s.op(ctx, "FindQualityEntries", attrs...)
	v, err := s.inner.FindQualityEntries(ctx, unit)
	s.rows.Add(ctx, int64(len(v)), metric.WithAttributes(attrs...))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) AppendQualityEntry(ctx context.Context, m types.QualityMeasurement) error {
	attrs := []attribute.KeyValue{attribute.String("straw.unit", m.Unit)}
	ctx, span, t := s.op(ctx, "AppendQualityEntry", attrs...)
	err := s.inner.AppendQualityEntry(ctx, m)
	s.done(ctx, span, t, err, attrs...)
	return err
}
