package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks() error
	Start() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	cron           string
	minAge         time.Duration
	log            *slog.Logger
}

// NewScheduler registers the periodic payout sweep on cron.
func NewScheduler(redisOpt asynq.RedisConnOpt, cron string, minAge time.Duration, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: newAsynqLogger(log)}),
		cron:           cron,
		minAge:         minAge,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	task, err := NewPayoutSweepTask(s.minAge)
	if err != nil {
		return err
	}

	if _, err := s.asynqScheduler.Register(s.cron, task); err != nil {
		return fmt.Errorf("register payout sweep: %w", err)
	}

	s.log.InfoContext(context.Background(), "scheduler: registered payout sweep", slog.String("cron", s.cron))
	return nil
}

func (s *scheduler) Start() error {
	s.log.InfoContext(context.Background(), "scheduler: starting")
	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
