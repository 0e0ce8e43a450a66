package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/errutil"
	asynqtask "smallbiznis-payout/pkg/task"
	"smallbiznis-payout/pkg/taskname"
	"smallbiznis-payout/services/balance"
	"smallbiznis-payout/services/payout"
	"smallbiznis-payout/services/reconcile"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PayoutRunner interface {
	RunDue(ctx context.Context) (*payout.DueReport, error)
	RunCampaign(ctx context.Context, campaignID string) (*payout.Report, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

type BalanceChecker interface {
	Check(ctx context.Context) error
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer asynqtask.Enqueuer
	clock    clockwork.Clock
	schedule scheduleConfig

	payout  PayoutRunner
	sweeper Sweeper
	balance BalanceChecker
}

type scheduleConfig struct {
	payout  time.Duration
	sweep   time.Duration
	balance time.Duration
}

type Params struct {
	fx.In
	Config   *config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer asynqtask.Enqueuer
	Clock    clockwork.Clock `optional:"true"`

	Payout  *payout.Service
	Sweeper *reconcile.Sweeper
	Monitor *balance.Monitor
}

func NewService(p Params) *Service {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		clock:    clock,
		schedule: scheduleConfig{
			payout:  p.Config.Schedule.PayoutInterval,
			sweep:   p.Config.Schedule.SweepInterval,
			balance: p.Config.Schedule.BalanceInterval,
		},
		payout:  p.Payout,
		sweeper: p.Sweeper,
		balance: p.Monitor,
	}
}

// uniqueFor bounds how long an identical trigger is collapsed.
func uniqueFor(interval time.Duration) time.Duration {
	if interval <= 0 {
		return time.Hour
	}
	return interval
}

func (s *Service) EnqueueRunDue(ctx context.Context) error {
	t, err := NewRunDueTask()
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t, "", asynq.Queue(taskname.QueueCritical), asynq.Unique(uniqueFor(s.schedule.payout)))
}

func (s *Service) EnqueueRunCampaign(ctx context.Context, campaignID string) error {
	t, err := NewRunCampaignTask(campaignID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t, campaignID, asynq.Queue(taskname.QueueCritical), asynq.Unique(uniqueFor(s.schedule.payout)))
}

func (s *Service) EnqueueSweep(ctx context.Context) error {
	t, err := NewSweepTask()
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t, "", asynq.Queue(taskname.QueueCritical), asynq.Unique(uniqueFor(s.schedule.sweep)))
}

func (s *Service) EnqueueBalanceCheck(ctx context.Context) error {
	t, err := NewBalanceCheckTask()
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t, "", asynq.Queue(taskname.QueueDefault), asynq.Unique(uniqueFor(s.schedule.balance)), asynq.MaxRetry(1))
}

// enqueue sends the task and records a PENDING job for it. A task already
// queued under the same payload is not an error.
func (s *Service) enqueue(ctx context.Context, t *asynq.Task, reference string, opts ...asynq.Option) error {
	info, err := s.enqueuer.Enqueue(ctx, t, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("⏭️ task already queued",
			zap.String("task_type", t.Type()),
			zap.String("reference", reference),
		)
		return nil
	}
	if err != nil {
		zap.L().Error("failed to enqueue task", zap.String("task_type", t.Type()), zap.Error(err))
		return err
	}

	job := Job{
		ID:        s.node.Generate().String(),
		TaskID:    info.ID,
		Type:      t.Type(),
		Reference: reference,
		Status:    JobPending,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		// The task is queued; the handler creates the record if this one is missing.
		zap.L().Warn("failed to record pending job", zap.String("task_id", info.ID), zap.Error(err))
	}

	zap.L().Info("📨 enqueued task",
		zap.String("task_type", t.Type()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("job_id", job.ID),
	)
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.PayoutRunDue, s.HandleRunDue)
	mux.HandleFunc(taskname.PayoutRunCampaign, s.HandleRunCampaign)
	mux.HandleFunc(taskname.ReconcileSweep, s.HandleSweep)
	mux.HandleFunc(taskname.BalanceCheck, s.HandleBalanceCheck)
}

func decodePayload(t *asynq.Task) (RunPayload, error) {
	var p RunPayload
	if len(t.Payload()) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid task payload", zap.String("task_type", t.Type()), zap.Error(err))
		return p, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p, nil
}

func (s *Service) HandleRunDue(ctx context.Context, t *asynq.Task) error {
	if _, err := decodePayload(t); err != nil {
		return err
	}
	return s.track(ctx, t.Type(), "", func(ctx context.Context) (any, bool, error) {
		rep, err := s.payout.RunDue(ctx)
		if rep == nil {
			return nil, false, err
		}
		return rep, false, err
	})
}

func (s *Service) HandleRunCampaign(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	if p.CampaignID == "" {
		return fmt.Errorf("%s: campaign_id is required: %w", t.Type(), asynq.SkipRetry)
	}
	return s.track(ctx, t.Type(), p.CampaignID, func(ctx context.Context) (any, bool, error) {
		rep, err := s.payout.RunCampaign(ctx, p.CampaignID)
		if rep == nil {
			return nil, false, err
		}
		return rep, rep.Skipped, err
	})
}

func (s *Service) HandleSweep(ctx context.Context, t *asynq.Task) error {
	if _, err := decodePayload(t); err != nil {
		return err
	}
	return s.track(ctx, t.Type(), "", func(ctx context.Context) (any, bool, error) {
		rep, err := s.sweeper.Sweep(ctx)
		if rep == nil {
			return nil, false, err
		}
		return rep, rep.Disabled || rep.Leased, err
	})
}

func (s *Service) HandleBalanceCheck(ctx context.Context, t *asynq.Task) error {
	if _, err := decodePayload(t); err != nil {
		return err
	}
	return s.track(ctx, t.Type(), "", func(ctx context.Context) (any, bool, error) {
		return nil, false, s.balance.Check(ctx)
	})
}

// track wraps one handler execution in a Job record. Fatal errors are not
// retried by asynq; the next scheduled trigger or an operator picks them up.
func (s *Service) track(ctx context.Context, jobType, reference string, run func(context.Context) (any, bool, error)) error {
	job, err := s.startJob(ctx, jobType, reference)
	if err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("task_type", jobType),
		zap.String("reference", reference),
	)
	log.Info("🚀 processing task", zap.Int("attempt", job.Attempts))

	result, skipped, runErr := run(ctx)

	updates := map[string]any{
		"status":       JobSucceeded,
		"completed_at": s.clock.Now(),
		"error_msg":    "",
	}
	if skipped {
		updates["status"] = JobSkipped
	}
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			updates["metadata"] = datatypes.JSON(b)
		}
	}
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Error("failed to update job", zap.Error(err))
	}

	if runErr == nil {
		log.Info("✅ finished task",
			zap.Any("status", updates["status"]),
			zap.Duration("duration", s.clock.Since(*job.StartedAt)),
		)
		return nil
	}

	log.Error("❌ task failed", zap.Error(runErr))
	if errutil.StatusOf(runErr).Fatal() {
		return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
	}
	return runErr
}

// startJob promotes the PENDING record written at enqueue time, or creates
// one for tasks enqueued elsewhere.
func (s *Service) startJob(ctx context.Context, jobType, reference string) (*Job, error) {
	now := s.clock.Now()
	retried, _ := asynq.GetRetryCount(ctx)
	taskID, _ := asynq.GetTaskID(ctx)

	var job Job
	if taskID != "" {
		err := s.db.WithContext(ctx).
			Where("task_id = ?", taskID).
			Order("created_at DESC").
			First(&job).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	job.Status = JobRunning
	job.Attempts = retried + 1
	job.StartedAt = &now
	job.CompletedAt = nil

	if job.ID != "" {
		err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"status":       job.Status,
			"attempts":     job.Attempts,
			"started_at":   now,
			"completed_at": nil,
		}).Error
		return &job, err
	}

	job.ID = s.node.Generate().String()
	job.TaskID = taskID
	job.Type = jobType
	job.Reference = reference
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		zap.L().Error("failed to create job", zap.String("task_type", jobType), zap.Error(err))
		return nil, err
	}
	return &job, nil
}
