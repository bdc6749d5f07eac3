package main

import (
	"log"
	"os"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/logger"
	"appraisal-fulfillment/pkg/redis"
	"appraisal-fulfillment/pkg/secretmanager"
	"appraisal-fulfillment/pkg/task"
	"appraisal-fulfillment/services/content"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		redis.Module,
		task.Server,
		content.Module,
		content.Worker,
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
