package metrics

import (
	"context"
	"net/http"

	"go.uber.org/fx"

	config "github.com/tigerroll/importd/pkg/batch/core/config"
	metrics "github.com/tigerroll/importd/pkg/batch/core/metrics"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// Exposition is the scrape endpoint of a pull-based recorder. Handler is nil when
// metrics are disabled or pushed.
type Exposition struct {
	Path    string
	Handler http.Handler
}

// RecorderResult bundles the recorder and its exposition for fx.
type RecorderResult struct {
	fx.Out

	Recorder   metrics.MetricRecorder
	Exposition Exposition
}

// NewRecorder selects the recorder named by importd.metrics.exporter.
func NewRecorder(lc fx.Lifecycle, cfg *config.Config) (RecorderResult, error) {
	mc := cfg.Importd.Metrics
	if !mc.Enabled {
		logger.Infof("Metrics are disabled.")
		return RecorderResult{Recorder: metrics.NewNoOpMetricRecorder()}, nil
	}
	switch mc.Exporter {
	case "prometheus", "":
		r := NewPrometheusRecorder()
		logger.Infof("Prometheus metrics exposed on %s.", mc.Path)
		return RecorderResult{Recorder: r, Exposition: Exposition{Path: mc.Path, Handler: r.Handler()}}, nil
	default:
		r, err := NewOTelRecorder(context.Background(), mc, cfg.Importd.Tracing.ServiceName)
		if err != nil {
			return RecorderResult{}, err
		}
		lc.Append(fx.Hook{OnStop: r.Shutdown})
		logger.Infof("OTLP metrics pushed through %s every %ds.", mc.Exporter, mc.ExportIntervalSeconds)
		return RecorderResult{Recorder: r}, nil
	}
}

// NewTracer returns an OpenTelemetry tracer when tracing is enabled, and the no-op tracer otherwise.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.Importd.Tracing
	if !tc.Enabled {
		return metrics.NewNoOpTracer(), nil
	}
	t, err := NewOpenTelemetryTracer(context.Background(), tc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	logger.Infof("Tracing enabled, exporting through %s.", tc.Exporter)
	return t, nil
}

// Module provides the metric recorder, its exposition and the tracer.
var Module = fx.Options(
	fx.Provide(NewRecorder),
	fx.Provide(NewTracer),
)
