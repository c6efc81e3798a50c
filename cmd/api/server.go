package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spendwise/internal/interfaces/jobqueue"
	"spendwise/internal/interfaces/scheduler"
	"spendwise/internal/shared/config"
	"spendwise/internal/shared/logger"
)

// StartServer starts the HTTP server in the background.
func StartServer(handler http.Handler, cfg *config.Config) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", "error", err)
		}
	}()
	return srv
}

// GracefulShutdown stops accepting requests, then stops the scheduler so no
// new fan-out is enqueued, then drains the queue workers.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, queue *jobqueue.Queue, timeout time.Duration) {
	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down HTTP server", "error", err)
	}
	if sched != nil {
		sched.Shutdown(timeout)
	}
	queue.Shutdown(timeout)

	logger.Info("server stopped")
}
