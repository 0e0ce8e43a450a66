package reconcile

import "go.uber.org/fx"

var Module = fx.Module("reconcile.sweeper",
	fx.Provide(NewSweeper),
)
