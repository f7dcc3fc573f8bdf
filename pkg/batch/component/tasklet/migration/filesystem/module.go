package filesystem

import (
	"go.uber.org/fx"
)

// MigrationsFSTag is the Fx tag for the embedded migrations filesystem.
const MigrationsFSTag = `name:"migrationsFS"`

// Module provides the embedded migrations FS.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		ProvideMigrationsFS,
		fx.ResultTags(MigrationsFSTag),
	)),
)
