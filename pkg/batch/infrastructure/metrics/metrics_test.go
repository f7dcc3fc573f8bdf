package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	infra "github.com/tigerroll/importd/pkg/batch/infrastructure/metrics"
)

func importJob() *model.Job {
	return &model.Job{ID: "job-1", Type: model.JobTypeBulkImport, Attempts: 1}
}

func TestPrometheusRecorder(t *testing.T) {
	r := infra.NewPrometheusRecorder()
	ctx := context.Background()

	r.RecordRows(ctx, model.JobTypeBulkImport, "success", 3)
	r.RecordRows(ctx, model.JobTypeBulkImport, "failed", 1)
	r.RecordRows(ctx, model.JobTypeBulkImport, "failed", 0)
	r.RecordQueueDepth(ctx, 4, 2)
	r.RecordJobEnd(ctx, importJob(), model.StatusCompleted, time.Second)

	expected := `
# HELP importd_rows_total Processed input rows by outcome.
# TYPE importd_rows_total counter
importd_rows_total{outcome="failed",type="bulk-import"} 1
importd_rows_total{outcome="success",type="bulk-import"} 3
`
	require.NoError(t, testutil.GatherAndCompare(r.GetRegistry(), strings.NewReader(expected), "importd_rows_total"))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `importd_queue_entries{state="waiting"} 4`)
	assert.Contains(t, string(body), `importd_job_ended_total{status="completed",type="bulk-import"} 1`)
}

func TestOTelRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	r, err := infra.NewOTelRecorderFromProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	ctx := context.Background()

	r.RecordRows(ctx, model.JobTypeBulkImport, "success", 5)
	r.RecordQueueDepth(ctx, 7, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "importd.rows" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.EqualValues(t, 5, sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found["importd.rows"])
	assert.True(t, found["importd.queue.entries"])
	require.NoError(t, r.Shutdown(ctx))
}

func TestOpenTelemetryTracer(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tracer := infra.NewTracerFromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))

	ctx, endJob := tracer.StartJobSpan(context.Background(), importJob())
	ctx, endBatch := tracer.StartSpan(ctx, "batch", map[string]interface{}{"rows": 200})
	tracer.RecordError(ctx, "importstep", errors.New("boom"))
	endBatch()
	tracer.RecordEvent(ctx, "batch.committed", nil)
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "batch", spans[0].Name())
	assert.Equal(t, "job.bulk-import", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	require.Len(t, spans[0].Events(), 1, "the recorded error")
}
