package campaign

import "go.uber.org/fx"

var Module = fx.Module("campaign.store",
	fx.Provide(NewStore),
)
