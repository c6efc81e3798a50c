// Package scheduler triggers the periodic sync fan-out.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"spendwise/internal/domain/openfinance"
	"spendwise/internal/domain/user"
	"spendwise/internal/shared/logger"
)

var (
	fanOutMeter    = otel.Meter("spendwise/scheduler")
	fanOutTotal, _ = fanOutMeter.Int64Counter("scheduler.fanout.jobs", metric.WithDescription("Sync jobs enqueued by the scheduler by status"))
)

// DefaultCron runs the fan-out daily at midnight.
const DefaultCron = "0 0 * * *"

type LinkedUsers interface {
	ListLinked(ctx context.Context) ([]*user.User, error)
}

type Config struct {
	Cron          string // standard five-field expression or descriptor such as @daily
	Timezone      string // IANA name, UTC when empty
	RunOnStartup  bool
	FanOutTimeout time.Duration
}

// FanOutResult counts one fan-out.
type FanOutResult struct {
	Users    int
	Enqueued int
	Failed   map[int64]error
}

// Scheduler enqueues one sync job per linked user on every cron tick.
type Scheduler struct {
	cron       *cron.Cron
	schedule   cron.Schedule
	location   *time.Location
	users      LinkedUsers
	dispatcher openfinance.Dispatcher
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, users LinkedUsers, dispatcher openfinance.Dispatcher) (*Scheduler, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.FanOutTimeout <= 0 {
		cfg.FanOutTimeout = 5 * time.Minute
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
		}
	}
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		schedule:   schedule,
		location:   loc,
		users:      users,
		dispatcher: dispatcher,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	s.cron.Schedule(schedule, cron.FuncJob(s.run))

	logger.Info("scheduler initialized", "cron", cfg.Cron, "timezone", loc.String(), "run_on_startup", cfg.RunOnStartup)
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	if s.cfg.RunOnStartup {
		logger.Info("scheduler: running initial fan-out on startup")
		s.TriggerNow()
	}
	logger.Info("scheduler started", "next_run", s.NextRun())
}

// FanOut enqueues a sync job for every linked user. A failed enqueue is
// recorded and the loop moves on.
func (s *Scheduler) FanOut(ctx context.Context) (*FanOutResult, error) {
	users, err := s.users.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}

	result := &FanOutResult{Users: len(users), Failed: make(map[int64]error)}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.dispatcher.DispatchSync(ctx, u.ID); err != nil {
			logger.Error("failed to enqueue scheduled sync", "user_id", u.ID, "error", err)
			result.Failed[u.ID] = err
			fanOutTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
			continue
		}
		result.Enqueued++
		fanOutTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	}
	return result, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FanOutTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.FanOut(ctx)
	if err != nil {
		logger.Error("scheduled fan-out failed", "error", err)
		return
	}
	logger.Info("scheduled fan-out complete",
		"users", res.Users,
		"enqueued", res.Enqueued,
		"failed", len(res.Failed),
		"duration", time.Since(start).String(),
	)
}

// TriggerNow runs a fan-out immediately in the background.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// NextRun returns the next scheduled fan-out after now.
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(time.Now().In(s.location))
}

// Shutdown stops the cron loop and waits for a running fan-out to finish.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	logger.Info("scheduler: initiating graceful shutdown")

	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("scheduler: stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("scheduler: timeout waiting for fan-out, cancelling")
	}
	s.cancel()
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
