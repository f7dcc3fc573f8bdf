package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLoggerAdapter writes fx lifecycle events to the "fx" logger.
// Hook runs are debug output; failures are errors.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates the fxevent.Logger installed by Module.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// log is resolved per event: the format can change after fx installs the adapter.
func (l *FxLoggerAdapter) log() *zap.SugaredLogger {
	return Named("fx")
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		l.hook("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuted:
		l.hook("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			l.log().Errorw("supply failed", "type", e.TypeName, "module", e.ModuleName, "error", e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			l.log().Errorw("provide failed", "constructor", e.ConstructorName, "module", e.ModuleName, "error", e.Err)
			return
		}
		if CurrentLevel() == LevelDebug {
			for _, t := range e.OutputTypeNames {
				l.log().Debugw("provided", "type", t, "constructor", shortFuncName(e.ConstructorName))
			}
		}
	case *fxevent.Decorated:
		if e.Err != nil {
			l.log().Errorw("decorate failed", "decorator", e.DecoratorName, "error", e.Err)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			l.log().Errorw("invoke failed", "function", shortFuncName(e.FunctionName), "error", e.Err, "trace", e.Trace)
		}
	case *fxevent.Stopping:
		l.log().Infow("stopping", "signal", e.Signal.String())
	case *fxevent.Stopped:
		if e.Err != nil {
			l.log().Errorw("stop failed", "error", e.Err)
		}
	case *fxevent.RollingBack:
		l.log().Errorw("start failed, rolling back", "error", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			l.log().Errorw("rollback failed", "error", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			l.log().Errorw("start failed", "error", e.Err)
			return
		}
		Infof("Application started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			l.log().Errorw("custom logger initialization failed", "error", e.Err)
		}
	}
}

func (l *FxLoggerAdapter) hook(kind, function, caller, runtime string, err error) {
	name := shortFuncName(function)
	if err != nil {
		l.log().Errorw(kind+" hook failed", "hook", name, "caller", caller, "error", err)
		return
	}
	l.log().Debugw(kind+" hook executed", "hook", name, "caller", caller, "runtime", runtime)
}

// shortFuncName drops the closure suffix (".func1") and the import path of a function name.
func shortFuncName(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		name = name[:idx]
	}
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	return name
}
