package notification

import "go.uber.org/fx"

var Module = fx.Module("notification",
	fx.Provide(
		fx.Annotate(NewTaskNotifier, fx.As(new(Notifier))),
	),
)
