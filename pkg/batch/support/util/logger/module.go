package logger

import "go.uber.org/fx"

// Module installs the fx event logger and flushes buffered entries when the app stops.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.StopHook(func() { _ = Sync() }))
	}),
)
