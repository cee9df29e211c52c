package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/hashpay/internal/lifecycle"
	"github.com/Proton-105/hashpay/pkg/config"
)

const defaultShutdownTimeout = 30 * time.Second

// Run starts every loop and the HTTP server, blocks until ctx ends or the
// server fails, then shuts down in phases: stop intake, drain in-flight
// payouts, close push channels, close storage.
func (a *App) Run(ctx context.Context) error {
	loopCtx, stopLoops := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoops()

	var loops sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		loops.Add(1)
		go func() {
			defer loops.Done()
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("background loop panicked", slog.String("loop", name), slog.Any("panic", r))
				}
			}()
			fn(loopCtx)
		}()
	}

	if a.jobWorker != nil {
		if err := a.jobWorker.Start(); err != nil {
			return fmt.Errorf("start jobs worker: %w", err)
		}
	}
	if a.jobScheduler != nil {
		if err := a.jobScheduler.RegisterTasks(); err != nil {
			return fmt.Errorf("register scheduled jobs: %w", err)
		}
		if err := a.jobScheduler.Start(); err != nil {
			return fmt.Errorf("start jobs scheduler: %w", err)
		}
	}

	start("broadcast", a.scheduler.Run)
	start("poller", a.poller.Run)
	start("connection_metrics", a.collector.Run)
	if a.memLimiter != nil {
		start("ratelimit_memory_cleanup", func(ctx context.Context) {
			a.memLimiter.Run(ctx, limiterCleanupInterval, 10*time.Minute)
		})
	}
	if a.cleaner != nil {
		start("ratelimit_redis_cleanup", a.cleaner.Run)
	}

	config.Watch(a.viper, a.log, a.reload)

	httpCtx, stopHTTP := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHTTP()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- a.server.ListenAndServe(httpCtx)
	}()

	a.log.Info("hashpay started",
		slog.String("port", a.cfg.Server.Port),
		slog.Duration("broadcast_interval", a.cfg.Broadcast.Interval),
		slog.Duration("poll_interval", a.cfg.Payout.PollInterval),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-serveDone:
		runErr = err
		serveDone <- err
		a.log.Error("http server stopped unexpectedly", slog.Any("error", err))
	}

	shutdown := lifecycle.NewShutdown(a.log)
	a.registerShutdown(shutdown, stopHTTP, serveDone, stopLoops, &loops)

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	// Leave room for in-flight withdrawals to drain.
	if drain := a.processor.Policy().DrainTimeout; drain > 0 {
		timeout += drain
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (a *App) registerShutdown(
	s *lifecycle.Shutdown,
	stopHTTP context.CancelFunc,
	serveDone chan error,
	stopLoops context.CancelFunc,
	loops *sync.WaitGroup,
) {
	a.probes.SetDraining()

	s.Register(lifecycle.PhaseIngress, "http", func(ctx context.Context) error {
		stopHTTP()
		select {
		case err := <-serveDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	s.Register(lifecycle.PhaseIngress, "loops", func(context.Context) error {
		stopLoops()
		return nil
	})
	if a.jobScheduler != nil {
		s.Register(lifecycle.PhaseIngress, "jobs_scheduler", func(context.Context) error {
			a.jobScheduler.Shutdown()
			return nil
		})
	}
	if a.jobWorker != nil {
		s.Register(lifecycle.PhaseIngress, "jobs_worker", func(context.Context) error {
			a.jobWorker.Shutdown()
			return nil
		})
	}

	s.Register(lifecycle.PhaseDrain, "payouts", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			loops.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("loops still running: %w", ctx.Err())
		}
	})

	s.Register(lifecycle.PhaseConnections, "push", func(context.Context) error {
		a.registry.CloseAll()
		return nil
	})

	s.Register(lifecycle.PhaseStorage, "storage", func(context.Context) error {
		a.closeAll()
		return nil
	})
}
