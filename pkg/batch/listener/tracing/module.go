package tracing

import (
	"go.uber.org/fx"
)

// Module contributes the tracing listeners. The Tracer itself is provided by the
// infrastructure metrics module.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewTracingJobListener, fx.ResultTags(`group:"job_listeners"`))),
	fx.Provide(fx.Annotate(NewTracingBatchListener, fx.ResultTags(`group:"batch_listeners"`))),
)
