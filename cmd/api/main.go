package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spendwise/internal/app"
	"spendwise/internal/interfaces/scheduler"
	"spendwise/internal/shared/config"
	"spendwise/internal/shared/logger"
	"spendwise/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		logger.Fatal("application error", "error", err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Plaid.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Plaid.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				logger.Error("failed to shut down telemetry", "error", err)
			}
		}()
	}

	deps, err := app.Build(cfg, app.Options{Migrate: true})
	if err != nil {
		return err
	}
	defer deps.Close()
	logger.Info("dependencies initialized", "store", cfg.Store, "lock_mode", cfg.Sync.LockMode)

	deps.StartWorkers(ctx)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			Cron:         cfg.Scheduler.Cron,
			Timezone:     cfg.Scheduler.Timezone,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
		}, deps.Users, deps.Dispatcher)
		if err != nil {
			deps.Queue.Shutdown(cfg.Server.ShutdownTimeout)
			return err
		}
		sched.Start()
	} else {
		logger.Info("scheduler is disabled")
	}

	srv := StartServer(SetupRoutes(deps, cfg), cfg)

	<-ctx.Done()
	GracefulShutdown(srv, sched, deps.Queue, cfg.Server.ShutdownTimeout)
	return nil
}
