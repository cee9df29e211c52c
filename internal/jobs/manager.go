package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Manager describes the minimal queue operations needed by the application.
type Manager interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type manager struct {
	client *asynq.Client
	log    *slog.Logger
}

// NewManager builds a Manager backed by an asynq client.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		client: asynq.NewClient(redisOpt),
		log:    log,
	}
}

func (m *manager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return m.client.EnqueueContext(ctx, task, opts...)
}

func (m *manager) Close() error {
	return m.client.Close()
}

// StatusQueue schedules payout status checks through a Manager.
type StatusQueue struct {
	manager Manager
	log     *slog.Logger
}

func NewStatusQueue(m Manager, log *slog.Logger) *StatusQueue {
	if log == nil {
		log = slog.Default()
	}
	return &StatusQueue{manager: m, log: log}
}

// EnqueueStatusCheck queues a check for payoutID after delay. A check that is
// already queued for the payout is not an error.
func (q *StatusQueue) EnqueueStatusCheck(ctx context.Context, payoutID string, delay time.Duration) error {
	task, err := NewPayoutStatusTask(payoutID)
	if err != nil {
		return fmt.Errorf("build status task: %w", err)
	}

	var opts []asynq.Option
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	info, err := q.manager.Enqueue(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue status task: %w", err)
	}

	q.log.DebugContext(ctx, "payout status check scheduled",
		slog.String("payout_id", payoutID),
		slog.String("task_id", info.ID),
		slog.Duration("delay", delay),
	)
	return nil
}
