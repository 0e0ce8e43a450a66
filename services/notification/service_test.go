package notification

import (
	"context"
	"encoding/json"
	"testing"

	"smallbiznis-payout/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{ID: "task-1", Type: t.Type()}, nil
}

func TestNotifyEnqueuesPush(t *testing.T) {
	m := &enqueuerMock{}
	n := NewTaskNotifier(TaskNotifierParams{Enqueuer: m})

	require.NoError(t, n.Notify(context.Background(), "c1", []string{"tok-1", "tok-2"}))
	require.Len(t, m.tasks, 1)
	require.Equal(t, taskname.NotificationPush, m.tasks[0].Type())

	var payload PushPayload
	require.NoError(t, json.Unmarshal(m.tasks[0].Payload(), &payload))
	require.Equal(t, "c1", payload.CampaignID)
	require.Equal(t, []string{"tok-1", "tok-2"}, payload.DeviceTokens)
}

func TestNotifySkipsEmptyTokenList(t *testing.T) {
	m := &enqueuerMock{}
	n := NewTaskNotifier(TaskNotifierParams{Enqueuer: m})

	require.NoError(t, n.Notify(context.Background(), "c1", nil))
	require.Empty(t, m.tasks)
}
