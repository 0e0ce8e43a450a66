package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"smallbiznis-payout/pkg/errutil"
	"smallbiznis-payout/pkg/taskname"
	"smallbiznis-payout/services/payout"
	"smallbiznis-payout/services/reconcile"
	"smallbiznis-payout/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", m.err)
	}
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(m.tasks)), Type: t.Type(), Queue: taskname.QueueCritical}, nil
}

func (m *enqueuerMock) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Type())
	}
	return out
}

type payoutMock struct {
	campaign func(id string) (*payout.Report, error)
	due      func() (*payout.DueReport, error)
}

func (m *payoutMock) RunDue(ctx context.Context) (*payout.DueReport, error) {
	return m.due()
}

func (m *payoutMock) RunCampaign(ctx context.Context, id string) (*payout.Report, error) {
	return m.campaign(id)
}

type sweeperMock struct {
	report *reconcile.Report
	err    error
}

func (m *sweeperMock) Sweep(ctx context.Context) (*reconcile.Report, error) {
	return m.report, m.err
}

type balanceMock struct {
	calls int
	err   error
}

func (m *balanceMock) Check(ctx context.Context) error {
	m.calls++
	return m.err
}

type fixture struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	enqueuer *enqueuerMock
	payout   *payoutMock
	sweeper  *sweeperMock
	balance  *balanceMock
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &Job{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		enqueuer: &enqueuerMock{},
		payout: &payoutMock{
			campaign: func(id string) (*payout.Report, error) {
				return &payout.Report{CampaignID: id, Succeeded: 2, Audited: true}, nil
			},
			due: func() (*payout.DueReport, error) {
				return &payout.DueReport{RunID: "run-1"}, nil
			},
		},
		sweeper: &sweeperMock{report: &reconcile.Report{RunID: "sweep-1"}},
		balance: &balanceMock{},
	}
	f.svc = &Service{
		db:       db,
		node:     node,
		enqueuer: f.enqueuer,
		clock:    f.clock,
		schedule: scheduleConfig{payout: time.Hour, sweep: 15 * time.Minute, balance: 10 * time.Minute},
		payout:   f.payout,
		sweeper:  f.sweeper,
		balance:  f.balance,
	}
	return f
}

func (f *fixture) jobs(t *testing.T) []Job {
	t.Helper()
	var jobs []Job
	require.NoError(t, f.db.Order("created_at").Find(&jobs).Error)
	return jobs
}

func campaignTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := NewRunCampaignTask(id)
	require.NoError(t, err)
	return task
}

func TestEnqueueRecordsPendingJob(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.EnqueueRunCampaign(context.Background(), "c1"))
	require.Equal(t, []string{taskname.PayoutRunCampaign}, f.enqueuer.types())

	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	require.Equal(t, JobPending, jobs[0].Status)
	require.Equal(t, "task-1", jobs[0].TaskID)
	require.Equal(t, "c1", jobs[0].Reference)

	var p RunPayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &p))
	require.Equal(t, "c1", p.CampaignID)
}

func TestEnqueueDuplicateIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = asynq.ErrDuplicateTask

	require.NoError(t, f.svc.EnqueueRunDue(context.Background()))
	require.Empty(t, f.jobs(t))
}

func TestEnqueueBrokerFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = errors.New("redis down")

	require.Error(t, f.svc.EnqueueSweep(context.Background()))
	require.Empty(t, f.jobs(t))
}

func TestHandleRunCampaignSucceeded(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.HandleRunCampaign(context.Background(), campaignTask(t, "c1")))

	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	require.Equal(t, JobSucceeded, jobs[0].Status)
	require.Equal(t, 1, jobs[0].Attempts)
	require.NotNil(t, jobs[0].StartedAt)
	require.NotNil(t, jobs[0].CompletedAt)

	var rep payout.Report
	require.NoError(t, json.Unmarshal(jobs[0].Metadata, &rep))
	require.Equal(t, "c1", rep.CampaignID)
	require.Equal(t, 2, rep.Succeeded)
}

func TestHandleRunCampaignSkipped(t *testing.T) {
	f := newFixture(t)
	f.payout.campaign = func(id string) (*payout.Report, error) {
		return &payout.Report{CampaignID: id, Skipped: true, SkipReason: "leased"}, nil
	}

	require.NoError(t, f.svc.HandleRunCampaign(context.Background(), campaignTask(t, "c1")))
	require.Equal(t, JobSkipped, f.jobs(t)[0].Status)
}

func TestHandleRunCampaignFatalSkipsRetry(t *testing.T) {
	f := newFixture(t)
	f.payout.campaign = func(id string) (*payout.Report, error) {
		return &payout.Report{CampaignID: id}, errutil.NotFound("wallet not found", payout.ErrWalletNotFound)
	}

	err := f.svc.HandleRunCampaign(context.Background(), campaignTask(t, "c1"))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	job := f.jobs(t)[0]
	require.Equal(t, JobFailed, job.Status)
	require.Contains(t, job.ErrorMsg, "wallet not found")
}

func TestHandleRunCampaignTransientIsRetried(t *testing.T) {
	f := newFixture(t)
	f.payout.campaign = func(id string) (*payout.Report, error) {
		return nil, errutil.Unavailable("ledger unavailable", nil)
	}

	err := f.svc.HandleRunCampaign(context.Background(), campaignTask(t, "c1"))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Equal(t, JobFailed, f.jobs(t)[0].Status)
}

func TestHandleRunCampaignRequiresID(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleRunCampaign(context.Background(), campaignTask(t, ""))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, f.jobs(t))
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleRunDue(context.Background(), asynq.NewTask(taskname.PayoutRunDue, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSweepAndBalanceCheck(t *testing.T) {
	f := newFixture(t)

	sweep, err := NewSweepTask()
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleSweep(context.Background(), sweep))

	f.sweeper.report = &reconcile.Report{RunID: "sweep-2", Leased: true}
	require.NoError(t, f.svc.HandleSweep(context.Background(), sweep))

	check, err := NewBalanceCheckTask()
	require.NoError(t, err)
	f.balance.err = errors.New("ledger down")
	require.Error(t, f.svc.HandleBalanceCheck(context.Background(), check))
	require.Equal(t, 1, f.balance.calls)

	jobs := f.jobs(t)
	require.Len(t, jobs, 3)
	statuses := map[JobStatus]int{}
	for _, j := range jobs {
		statuses[j.Status]++
	}
	require.Equal(t, map[JobStatus]int{JobSucceeded: 1, JobSkipped: 1, JobFailed: 1}, statuses)
}

func TestSchedulerEnqueuesOnTick(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.svc)
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 3))

	f.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		return len(f.enqueuer.types()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{taskname.BalanceCheck}, f.enqueuer.types())

	f.clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool {
		return len(f.enqueuer.types()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, taskname.ReconcileSweep, f.enqueuer.types()[1])
}

func TestSchedulerStop(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.svc)

	require.NoError(t, s.Stop(context.Background()))
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
