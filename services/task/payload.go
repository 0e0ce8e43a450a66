package task

import (
	"encoding/json"

	"smallbiznis-payout/pkg/taskname"

	"github.com/hibiken/asynq"
)

// RunPayload is shared by every trigger task. Identical payloads collapse
// under asynq.Unique, so it carries no per-enqueue data.
type RunPayload struct {
	CampaignID string `json:"campaign_id,omitempty"`
}

func newTask(taskType string, p RunPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, b), nil
}

func NewRunDueTask() (*asynq.Task, error) {
	return newTask(taskname.PayoutRunDue, RunPayload{})
}

func NewRunCampaignTask(campaignID string) (*asynq.Task, error) {
	return newTask(taskname.PayoutRunCampaign, RunPayload{CampaignID: campaignID})
}

func NewSweepTask() (*asynq.Task, error) {
	return newTask(taskname.ReconcileSweep, RunPayload{})
}

func NewBalanceCheckTask() (*asynq.Task, error) {
	return newTask(taskname.BalanceCheck, RunPayload{})
}
