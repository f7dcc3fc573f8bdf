package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/api"
	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/worker"
	inframetrics "github.com/tigerroll/importd/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/listener/logging"
	listenermetrics "github.com/tigerroll/importd/pkg/batch/listener/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener/notification"
	"github.com/tigerroll/importd/pkg/batch/listener/tracing"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// Options selects what a process runs.
type Options struct {
	// EnvFilePath is the .env file loaded before the configuration.
	EnvFilePath string
	// Config is the embedded application.yaml.
	Config config.EmbeddedConfig
	// DBProviders is the comma separated list of database providers to register.
	DBProviders string
	// ServeAPI mounts the HTTP API.
	ServeAPI bool
	// Worker overrides worker.enabled when set.
	Worker *bool
}

func overrideWorker(enabled *bool) fx.Option {
	if enabled == nil {
		return fx.Options()
	}
	return fx.Decorate(func(cfg *config.Config) *config.Config {
		cfg.Importd.Worker.Enabled = *enabled
		return cfg
	})
}

// Build returns the fx options of one importd process.
//
// Schema migration is registered ahead of the queue so that the queue start hook
// sees the migrated tables.
func Build(o Options) fx.Option {
	opts := []fx.Option{
		fx.Supply(
			o.Config,
			fx.Annotate(o.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		overrideWorker(o.Worker),

		fx.Options(DBProviderOptions(o.DBProviders)...),
		InfrastructureModule,
		fx.Invoke(migration.RegisterAutoMigrate),

		inframetrics.Module,
		listener.Module,
		logging.Module,
		listenermetrics.Module,
		tracing.Module,
		notification.Module,

		worker.Module,
		usecase.Module,
	}
	if o.ServeAPI {
		opts = append(opts, api.Module)
	}
	return fx.Options(opts...)
}

// New creates the fx application. Construction errors are reported by app.Err.
func New(o Options) *fx.App {
	return fx.New(Build(o))
}

// Run starts the application and blocks until ctx is done or fx receives a shutdown
// signal, then stops it.
func Run(ctx context.Context, o Options) error {
	app := New(o)
	if err := app.Err(); err != nil {
		return errors.Wrap(err, "failed to build application")
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return errors.Wrap(err, "failed to start application")
	}

	select {
	case <-ctx.Done():
		logger.Infof("Shutdown requested.")
	case sig := <-app.Wait():
		logger.Infof("Received %v, shutting down.", sig.Signal)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return errors.Wrap(err, "failed to stop application cleanly")
	}
	logger.Infof("Application stopped.")
	return nil
}

// Migrate runs a schema migration command against the job repository database
// without starting the queue, the worker or the API.
func Migrate(ctx context.Context, o Options, command migration.Command, steps int) (migration.Result, error) {
	var tasklet *migration.MigrationTasklet
	app := fx.New(
		fx.Supply(
			o.Config,
			fx.Annotate(o.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		migration.Module,
		fx.Populate(&tasklet),
	)
	if err := app.Err(); err != nil {
		return migration.Result{}, errors.Wrap(err, "failed to build migration")
	}
	return tasklet.Execute(ctx, command, steps)
}
