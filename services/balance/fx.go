package balance

import "go.uber.org/fx"

var Module = fx.Module("balance.monitor",
	fx.Provide(NewMonitor),
)
