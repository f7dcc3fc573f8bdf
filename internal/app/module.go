// Package app assembles the importd fx application from the framework modules.
package app

import (
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/importd/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/importd/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/importd/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/importd/pkg/batch/adapter/storage"
	"github.com/tigerroll/importd/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/importd/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/importd/pkg/batch/component/writer/catalog"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	"github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// DefaultDBProviders is used when no provider list is given.
const DefaultDBProviders = "postgres,mysql,sqlite"

// DBProviderMap maps a provider name to its constructor. Redshift speaks the postgres protocol.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"redshift": postgres.NewProvider,
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}

// DBProviderOptions registers the providers named in the comma separated list.
// Unknown names are logged and skipped.
func DBProviderOptions(names string) []fx.Option {
	if strings.TrimSpace(names) == "" {
		names = DefaultDBProviders
	}
	seen := map[string]bool{}
	options := make([]fx.Option, 0)
	for _, name := range strings.Split(names, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		provider, ok := DBProviderMap[name]
		if !ok {
			logger.Warnf("DB provider '%s' is not supported. Skipping.", name)
			continue
		}
		seen[name] = true
		options = append(options, fx.Provide(fx.Annotate(provider, fx.ResultTags(`group:"`+database.DBProviderGroup+`"`))))
		logger.Debugf("DB provider '%s' registered.", name)
	}
	return options
}

// InfrastructureModule provides the connections, the blob store, the repositories,
// the schema migrator and the queue.
var InfrastructureModule = fx.Options(
	gormadapter.Module,

	local.Module,
	gcs.Module,
	storage.Module,

	sql.Module,
	catalog.Module,
	migration.Module,
	queue.Module,
)
