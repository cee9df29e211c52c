package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePayoutStatus   = "payout:check_status"
	TaskTypePayoutSweep    = "payout:sweep"
	statusCheckMaxRetry    = 12
	statusCheckTaskTimeout = 30 * time.Second
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type PayoutStatusPayload struct {
	PayoutID string `json:"payout_id"`
}

type PayoutSweepPayload struct {
	MinAge time.Duration `json:"min_age"`
}

// NewPayoutStatusTask checks one payout against the exchange. The task id is
// derived from the payout so a payout is never queued twice.
func NewPayoutStatusTask(payoutID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PayoutStatusPayload{PayoutID: payoutID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypePayoutStatus, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(statusCheckMaxRetry),
		asynq.Timeout(statusCheckTaskTimeout),
		asynq.TaskID(fmt.Sprintf("payout-status:%s", payoutID)),
	), nil
}

func NewPayoutSweepTask(minAge time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(PayoutSweepPayload{MinAge: minAge})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypePayoutSweep, payload, asynq.Queue(QueueLow)), nil
}
