package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/tigerroll/importd/internal/app"
	"github.com/tigerroll/importd/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

var serveWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. The worker pool runs in the same process unless --worker=false,
in which case jobs are left to separate 'importd worker' processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		o := options()
		o.ServeAPI = true
		if cmd.Flags().Changed("worker") {
			o.Worker = &serveWorker
		}
		ctx, cancel := signalContext()
		defer cancel()
		return app.Run(ctx, o)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker pool without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := true
		o := options()
		o.Worker = &enabled
		ctx, cancel := signalContext()
		defer cancel()
		return app.Run(ctx, o)
	},
}

var (
	importMapping      map[string]string
	importDefaultBrand string
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import one CSV or XLSX file and wait for the job to finish",
	Long: `Import one CSV or XLSX file in-process. The file is uploaded to the blob store and
processed by a local worker like any submitted job; the command exits once the job is
terminal. It fails unless the job completed.

Example:
  importd import products.csv --map 0=name,1=product_code,2=brand`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := parseMapping(importMapping)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, cancel := signalContext()
		defer cancel()
		job, err := app.RunImport(ctx, options(), usecase.ImportRequest{
			FileName:     filepath.Base(args[0]),
			ContentType:  mime.TypeByExtension(filepath.Ext(args[0])),
			File:         f,
			Mapping:      mapping,
			DefaultBrand: importDefaultBrand,
		})
		if err != nil {
			return err
		}
		printSummary(cmd, job)
		if job.Status != model.StatusCompleted {
			return fmt.Errorf("job %s finished %s", job.ID, job.Status)
		}
		return nil
	},
}

// parseMapping converts index=field pairs into a column mapping.
func parseMapping(pairs map[string]string) (model.ColumnMapping, error) {
	if len(pairs) == 0 {
		return nil, errors.New("--map is required, e.g. --map 0=name,1=product_code")
	}
	mapping := make(model.ColumnMapping, len(pairs))
	for k, field := range pairs {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("column index must be a non-negative integer, got %q", k)
		}
		mapping[idx] = field
	}
	return mapping, nil
}

func printSummary(cmd *cobra.Command, job *model.Job) {
	out := cmd.OutOrStdout()
	p := job.Progress
	fmt.Fprintf(out, "job %s %s: %d/%d rows processed, %d succeeded, %d failed\n",
		job.ID, job.Status, p.ProcessedRows, p.TotalRows, p.SuccessCount, p.FailedCount)
	if r := job.Results.ImportResults; r != nil {
		fmt.Fprintf(out, "new categories %d, brands %d, vendors %d, keywords %d\n",
			r.NewCategoriesCount, r.NewBrandsCount, r.NewVendorsCount, r.NewKeywordsCount)
	}
	entries := append([]model.ErrorEntry(nil), job.ErrorLog...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	for _, e := range entries {
		if e.Row != nil {
			fmt.Fprintf(out, "  row %d: %s\n", *e.Row, e.Message)
			continue
		}
		fmt.Fprintf(out, "  %s\n", e.Message)
	}
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func migrateRun(command migration.Command) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		steps := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("steps must be a non-negative integer, got %q", args[0])
			}
			steps = n
		}
		res, err := app.Migrate(cmd.Context(), options(), command, steps)
		if err != nil {
			return err
		}
		dirty := ""
		if res.Dirty {
			dirty = " (dirty)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d%s\n", res.Version, dirty)
		return nil
	}
}

func init() {
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "run the worker pool in the API process (overrides worker.enabled)")
	importCmd.Flags().StringToStringVar(&importMapping, "map", nil, "column mapping as index=field pairs")
	importCmd.Flags().StringVar(&importDefaultBrand, "default-brand", "", "brand used for rows without one")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  migrateRun(migration.CommandUp),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations; all of them when steps is omitted",
			Args:  cobra.MaximumNArgs(1),
			RunE:  migrateRun(migration.CommandDown),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  migrateRun(migration.CommandVersion),
		},
	)
}
