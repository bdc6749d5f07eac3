package content

import (
	"appraisal-fulfillment/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("content.service",
	fx.Provide(NewService),
)

// Worker registers the deferred metadata handler on the asynq mux.
var Worker = fx.Module("content.worker",
	fx.Provide(NewRetryHandler),
	fx.Invoke(registerHandlers),
)

func registerHandlers(mux *asynq.ServeMux, h *RetryHandler) {
	mux.Handle(taskname.ContentMetadataRetry, h)
}
