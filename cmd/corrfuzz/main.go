package main

import (
	"os"

	"corrfuzz/config"
	"corrfuzz/internal/crash"
	"corrfuzz/internal/launcher"
	"corrfuzz/internal/worker"
	"corrfuzz/pkg/database"
	"corrfuzz/pkg/logger"
	"corrfuzz/pkg/mq"
	"corrfuzz/pkg/telemetry"
	"corrfuzz/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// the launcher re-executes this binary once per core; those children are
// the workers
var workerModule = fx.Options(
	fx.Provide(
		database.NewDBConnection,    // inject db connection
		database.NewRedisClient,     // inject redis client
		mq.NewRabbitMQ,              // inject rabbitmq service
		crash.NewCrashManager,       // inject crash manager
		watchdog.NewWatchDogFactory, // inject watchdog factory
		worker.NewWorker,            // inject fuzzing worker
	),
	fx.Invoke(func(*worker.Worker) {}),
)

var launcherModule = fx.Options(
	fx.Provide(
		launcher.NewLauncher, // inject worker launcher
	),
	fx.Invoke(func(*launcher.Launcher) {}),
)

func main() {
	role := launcherModule
	if os.Getenv(config.WorkerIDEnv) != "" {
		role = workerModule
	}

	app := fx.New(
		fx.Provide(
			config.LoadConfig,          // inject config
			logger.NewLogger,           // inject logger
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
		),
		role,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
