package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tigerroll/importd/internal/app"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// embeddedConfig is the default application.yaml. ${VAR} placeholders are expanded
// and IMPORTD_* environment variables override individual keys.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

var (
	envFilePath string
	dbProviders string
)

var rootCmd = &cobra.Command{
	Use:   "importd",
	Short: "Asynchronous bulk import and report job service",
	Long: `importd accepts CSV and XLSX product files over HTTP, queues them as jobs and
imports them in the background. It also generates catalog reports.

Examples:
  importd serve              # HTTP API and in-process worker
  importd serve --worker=false
  importd worker             # worker only
  importd import products.csv --map 0=name,1=product_code
  importd migrate up         # apply schema migrations`,
	SilenceUsage: true,
}

func init() {
	defaultEnv := os.Getenv("ENV_FILE_PATH")
	if defaultEnv == "" {
		defaultEnv = ".env"
	}
	rootCmd.PersistentFlags().StringVar(&envFilePath, "env-file", defaultEnv, "path of the .env file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&dbProviders, "db-providers", os.Getenv("DB_ADAPTERS"), "comma separated database providers to register (default "+app.DefaultDBProviders+")")

	rootCmd.AddCommand(serveCmd, workerCmd, importCmd, migrateCmd)
}

func options() app.Options {
	return app.Options{
		EnvFilePath: envFilePath,
		Config:      config.EmbeddedConfig(embeddedConfig),
		DBProviders: dbProviders,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Warnf("Received signal '%v'. Stopping...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
