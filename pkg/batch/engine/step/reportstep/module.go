package reportstep

import "go.uber.org/fx"

// Module provides the report Step.
var Module = fx.Provide(New)
