package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// ProvideMigrationsFS returns the embedded migration scripts. The root holds one
// directory per database type.
func ProvideMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create subdirectory for migration FS: %v", err)
	}
	return subFS
}
