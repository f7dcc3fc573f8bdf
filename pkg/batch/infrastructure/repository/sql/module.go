package sql

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
)

// Module provides the job and catalog repositories on the job connection.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewSQLJobRepository,
		fx.As(new(repository.JobRepository)),
	)),
	fx.Provide(fx.Annotate(
		NewSQLCatalogRepository,
		fx.As(new(repository.CatalogRepository)),
	)),
)
