// Package migration applies the importd database schema with golang-migrate.
// Migration scripts are embedded per database type by the filesystem subpackage.
package migration

import (
	"context"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration/filesystem"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// MigrationTaskletParams defines the dependencies for newMigrationTasklet.
type MigrationTaskletParams struct {
	fx.In
	Cfg              *config.Config
	MigratorProvider MigratorProvider
	MigrationFS      fs.FS `name:"migrationsFS"`
}

func newMigrationTasklet(p MigrationTaskletParams) *MigrationTasklet {
	return NewMigrationTasklet(p.Cfg, p.MigratorProvider, p.MigrationFS)
}

// RegisterAutoMigrate applies pending migrations on start when infrastructure.auto_migrate is set.
// It must be invoked before components whose start hooks read the schema.
func RegisterAutoMigrate(lc fx.Lifecycle, cfg *config.Config, t *MigrationTasklet) {
	if !cfg.Importd.Infrastructure.AutoMigrate {
		logger.Debugf("Automatic schema migration is disabled.")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			res, err := t.Execute(ctx, CommandUp, 0)
			if err != nil {
				return err
			}
			logger.Infof("Schema is at version %d.", res.Version)
			return nil
		},
	})
}

// Module provides the MigrationTasklet and its embedded scripts.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(NewMigratorProvider),
	fx.Provide(newMigrationTasklet),
)
