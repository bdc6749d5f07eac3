package main

import (
	"log"
	"os"

	"appraisal-fulfillment/internal/httpapi"
	"appraisal-fulfillment/pkg/background"
	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/gen"
	"appraisal-fulfillment/pkg/health"
	"appraisal-fulfillment/pkg/kafka"
	"appraisal-fulfillment/pkg/logger"
	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/pkg/minio"
	"appraisal-fulfillment/pkg/redis"
	"appraisal-fulfillment/pkg/secretmanager"
	"appraisal-fulfillment/pkg/server"
	"appraisal-fulfillment/pkg/task"
	"appraisal-fulfillment/pkg/telemetry"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/fulfillment"
	"appraisal-fulfillment/services/ledger"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/payment"
	"appraisal-fulfillment/services/publisher"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		metrics.Module,
		telemetry.Module,
		gen.Module,
		redis.Module,
		minio.Client,
		kafka.Producer,
		task.Client,
		payment.Module,
		ledger.Module,
		content.Module,
		media.Module,
		notification.Module,
		publisher.Module,
		errorreport.Module,
		fulfillment.Module,
		// Stop hooks run in reverse: the server stops first, then in-flight
		// runs drain, then the pipeline's clients close.
		fx.Module("fulfillment.pipeline", fx.Invoke(func(*fulfillment.Service) {})),
		background.Module,
		health.Module,
		server.ProvideHTTPServer,
		httpapi.Module,
		fxLogger,
	}
	if os.Getenv("VAULT_ENABLED") == "true" {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
