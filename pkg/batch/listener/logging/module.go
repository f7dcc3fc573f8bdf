package logging

import (
	"go.uber.org/fx"
)

// Module contributes the logging listeners to the listener groups.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLoggingJobListener, fx.ResultTags(`group:"job_listeners"`))),
	fx.Provide(fx.Annotate(NewLoggingBatchListener, fx.ResultTags(`group:"batch_listeners"`))),
)
