package metrics

import (
	"go.uber.org/fx"
)

// Module decorates the provided MetricRecorder with the asynchronous wrapper and
// contributes the metrics listeners to the listener groups.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),

	fx.Provide(fx.Annotate(NewMetricsJobListener, fx.ResultTags(`group:"job_listeners"`))),
	fx.Provide(fx.Annotate(NewMetricsBatchListener, fx.ResultTags(`group:"batch_listeners"`))),
)
