package worker

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/step/importstep"
	"github.com/tigerroll/importd/pkg/batch/engine/step/reportstep"
	"github.com/tigerroll/importd/pkg/batch/engine/step/retry"
)

// Module provides the Pool, the steps it dispatches to and the retry policy.
// The Pool doubles as the usecase.AttemptCanceller of the API.
// The pool only starts when worker.enabled is set.
var Module = fx.Options(
	importstep.Module,
	reportstep.Module,
	fx.Provide(
		retry.NewPolicy,
		func(s *importstep.Step) ImportRunner { return s },
		func(s *reportstep.Step) ReportRunner { return s },
		NewPool,
		func(p *Pool) usecase.AttemptCanceller { return p },
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, p *Pool) {
		if !cfg.Importd.Worker.Enabled {
			return
		}
		lc.Append(fx.Hook{
			OnStart: p.Start,
			OnStop: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, cfg.Importd.Worker.ShutdownTimeout())
				defer cancel()
				return p.Stop(ctx)
			},
		})
	}),
)
