package listener

import (
	"go.uber.org/fx"
)

// Module provides the multicaster, the broadcaster and the completion signaler.
// The broadcaster and the signaler also observe every job.
// The logging, metrics, tracing and notification sub-modules contribute the other listeners.
var Module = fx.Options(
	fx.Provide(NewBroadcaster),
	fx.Provide(fx.Annotate(
		func(b *Broadcaster) JobListener { return b },
		fx.ResultTags(`group:"job_listeners"`),
	)),
	fx.Provide(fx.Annotate(
		func(b *Broadcaster) BatchListener { return b },
		fx.ResultTags(`group:"batch_listeners"`),
	)),
	fx.Provide(NewCompletionSignaler),
	fx.Provide(fx.Annotate(
		func(s *CompletionSignaler) JobListener { return s },
		fx.ResultTags(`group:"job_listeners"`),
	)),
	fx.Provide(NewMulticaster),
)
