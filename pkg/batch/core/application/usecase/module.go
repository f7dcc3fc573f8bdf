package usecase

import (
	"go.uber.org/fx"
)

// Module is the Fx module for JobLauncher, JobOperator, and JobExplorer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewSimpleJobLauncher,
		fx.As(new(JobLauncher)),
	)),
	fx.Provide(fx.Annotate(
		NewDefaultJobOperator,
		fx.As(new(JobOperator)),
	)),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
)
