package importstep

import (
	"go.uber.org/fx"
)

// Module provides the import Step.
var Module = fx.Options(
	fx.Provide(New),
)
