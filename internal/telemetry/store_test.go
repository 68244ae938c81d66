package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/testutil/teststore"
	"github.com/strawtrace/strawtrace/internal/types"
)

func TestWrapStoreDisabled(t *testing.T) {
	t.Setenv("STRAW_OTEL_ENABLED", "")
	env := teststore.NewEnv(t)
	assert.Same(t, env.Store, WrapStore(env.Store))
}

func TestInstrumentedStore(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch("CPAL0001")

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	s := newInstrumentedStore(env.Store, mp.Meter("test"), tp.Tracer("test"))
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "CPAL0001", types.StepPrep, env.Pass("ST00001"), []string{"wk"}))
	recs, err := s.Find(ctx, "CPAL0001")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	_, err = s.Find(ctx, "CPAL0404")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "ledger.AppendEvent", ended[0].Name())
	assert.Equal(t, "ledger.Find", ended[1].Name())
	assert.Equal(t, "Error", ended[2].Status().Code.String())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), totals["strawtrace.ledger.operations"])
	assert.Equal(t, int64(1), totals["strawtrace.ledger.errors"])
	assert.Equal(t, int64(1), totals["strawtrace.ledger.rows_read"])
}
