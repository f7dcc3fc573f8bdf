package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/core/tx"
)

// NewJobDBConnection resolves the connection named by infrastructure.job_repository_db_ref.
// The connection is shared by the job store, the queue and the catalog.
func NewJobDBConnection(lc fx.Lifecycle, cfg *config.Config, resolver database.DBConnectionResolver) (database.DBConnection, error) {
	conn, err := resolver.ResolveDBConnection(context.Background(), cfg.Importd.Infrastructure.JobRepositoryDBRef)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if closer, ok := resolver.(interface{ CloseAll() error }); ok {
				return closer.CloseAll()
			}
			return conn.Close()
		},
	})
	return conn, nil
}

// NewTransactionManager provides the tx.TransactionManager bound to the job connection.
func NewTransactionManager(conn database.DBConnection) tx.TransactionManager {
	return NewGormTransactionManager(conn)
}

// Module exports the GORM adapter components (excluding concrete DB providers).
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
	)),
	fx.Provide(NewJobDBConnection),
	fx.Provide(NewTransactionManager),
)
