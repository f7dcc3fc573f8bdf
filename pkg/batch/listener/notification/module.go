package notification

import (
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/core/ports"
)

// Module provides the notifier and contributes the notification listener.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(ports.Notifier)),
	)),
	fx.Provide(fx.Annotate(NewNotificationListener, fx.ResultTags(`group:"job_listeners"`))),
)
