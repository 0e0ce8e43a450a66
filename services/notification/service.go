package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"smallbiznis-payout/pkg/task"
	"smallbiznis-payout/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier hands paid participants' device tokens to the push service.
type Notifier interface {
	Notify(ctx context.Context, campaignID string, deviceTokens []string) error
}

type PushPayload struct {
	CampaignID   string   `json:"campaign_id"`
	DeviceTokens []string `json:"device_tokens"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	TraceID      string   `json:"trace_id,omitempty"`
}

func NewPushTask(p PushPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.NotificationPush, b), nil
}

type TaskNotifier struct {
	enqueuer task.Enqueuer
}

type TaskNotifierParams struct {
	fx.In

	Enqueuer task.Enqueuer
}

func NewTaskNotifier(p TaskNotifierParams) *TaskNotifier {
	return &TaskNotifier{enqueuer: p.Enqueuer}
}

func (n *TaskNotifier) Notify(ctx context.Context, campaignID string, deviceTokens []string) error {
	if len(deviceTokens) == 0 {
		return nil
	}

	t, err := NewPushTask(PushPayload{
		CampaignID:   campaignID,
		DeviceTokens: deviceTokens,
		Title:        "Campaign reward received",
		Body:         "Your campaign reward has been paid to your wallet.",
	})
	if err != nil {
		return fmt.Errorf("build push task: %w", err)
	}

	info, err := n.enqueuer.Enqueue(ctx, t,
		asynq.Queue(taskname.QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return err
	}

	zap.L().Info("📣 push notification queued",
		zap.String("campaign_id", campaignID),
		zap.String("task_id", info.ID),
		zap.Int("recipients", len(deviceTokens)),
	)
	return nil
}

type Nop struct{}

func (Nop) Notify(context.Context, string, []string) error { return nil }
