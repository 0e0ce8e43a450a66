package transfer

import "go.uber.org/fx"

var Module = fx.Module("transfer.store",
	fx.Provide(NewStore),
)
