package catalog

import "go.uber.org/fx"

// Module provides the entity resolver and the product writer.
var Module = fx.Options(
	fx.Provide(NewResolver),
	fx.Provide(NewWriter),
)
