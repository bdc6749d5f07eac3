package media

import "go.uber.org/fx"

var Module = fx.Module("media.service",
	fx.Provide(NewService),
)
