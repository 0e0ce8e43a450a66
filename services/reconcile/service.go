package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/db/pagination"
	"smallbiznis-payout/pkg/featureflags"
	"smallbiznis-payout/pkg/lease"
	"smallbiznis-payout/pkg/metrics"
	"smallbiznis-payout/pkg/rediskey"
	"smallbiznis-payout/services/balance"
	"smallbiznis-payout/services/campaign"
	"smallbiznis-payout/services/ledger"
	"smallbiznis-payout/services/transfer"
	"smallbiznis-payout/services/wallet"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	passReward   = "reward"
	passCampaign = "campaign"
)

// Sweeper retries transfers left FAILED or PENDING. Every pass is safe to
// run again; rows only ever move forward to SUCCEEDED.
type Sweeper struct {
	houseOrgID  string
	pageSize    int
	concurrency int
	staleAfter  time.Duration
	leaseTTL    time.Duration

	transfers   *transfer.Store
	campaigns   *campaign.Store
	wallets     *wallet.Store
	provisioner *wallet.Provisioner
	ledger      ledger.Client
	locker      lease.Locker
	alerter     alert.Alerter
	flags       featureflags.FeatureFlag
	monitor     *balance.Monitor
	clock       clockwork.Clock
	tracer      trace.Tracer
}

type SweeperParams struct {
	fx.In

	Config      *config.Config
	Transfers   *transfer.Store
	Campaigns   *campaign.Store
	Wallets     *wallet.Store
	Provisioner *wallet.Provisioner
	Ledger      ledger.Client
	Locker      lease.Locker
	Alerter     alert.Alerter
	Flags       featureflags.FeatureFlag
	Monitor     *balance.Monitor `optional:"true"`
	Clock       clockwork.Clock  `optional:"true"`
}

func NewSweeper(p SweeperParams) (*Sweeper, error) {
	if p.Config.Payout.HouseOrgID == "" {
		return nil, errors.New("PAYOUT.HOUSE_ORG_ID is required")
	}

	s := &Sweeper{
		houseOrgID:  p.Config.Payout.HouseOrgID,
		pageSize:    p.Config.Sweeper.PageSize,
		concurrency: p.Config.Payout.Concurrency,
		staleAfter:  p.Config.Sweeper.PendingStaleAfter,
		leaseTTL:    p.Config.Payout.LeaseTTL,
		transfers:   p.Transfers,
		campaigns:   p.Campaigns,
		wallets:     p.Wallets,
		provisioner: p.Provisioner,
		ledger:      p.Ledger,
		locker:      p.Locker,
		alerter:     p.Alerter,
		flags:       p.Flags,
		monitor:     p.Monitor,
		clock:       p.Clock,
		tracer:      otel.Tracer("smallbiznis-payout/reconcile"),
	}
	if s.pageSize <= 0 {
		s.pageSize = pagination.DefaultLimit
	}
	if s.concurrency <= 0 {
		s.concurrency = 20
	}
	if s.staleAfter <= 0 {
		s.staleAfter = time.Hour
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = 30 * time.Minute
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.alerter == nil {
		s.alerter = alert.LogAlerter{}
	}
	return s, nil
}

// Sweep runs the reward pass then the campaign pass.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := zap.L().With(zap.String("run_id", report.RunID))

	if !s.flags.IsEnabled(ctx, featureflags.SweeperEnabled, true) {
		log.Warn("⏸️ sweeper disabled by feature flag")
		report.Disabled = true
		return report, nil
	}

	release, err := s.locker.Acquire(ctx, rediskey.SweepLeaseKey, s.leaseTTL)
	if errors.Is(err, lease.ErrNotAcquired) {
		log.Info("another sweep is running")
		report.Leased = true
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lease: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release sweep lease", zap.Error(err))
		}
	}()

	ctx, span := s.tracer.Start(ctx, "reconcile.sweep", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	log.Info("🧹 starting reconciliation sweep")

	rewardErr := s.rewardPass(ctx, &report.Reward)
	campaignErr := s.campaignPass(ctx, &report.Campaign)

	s.alertRejections(ctx, report.RunID, passReward, &report.Reward.rejected)
	s.alertRejections(ctx, report.RunID, passCampaign, &report.Campaign.rejected)

	log.Info("✅ reconciliation sweep finished",
		zap.Int("reward_succeeded", report.Reward.Succeeded),
		zap.Int("reward_failed", report.Reward.Failed),
		zap.Int("campaign_succeeded", report.Campaign.Succeeded),
		zap.Int("campaign_failed", report.Campaign.Failed),
		zap.Int("campaign_skipped", report.Campaign.Skipped),
	)
	return report, errors.Join(rewardErr, campaignErr)
}

func (s *Sweeper) record(ctx context.Context, pass string, pr *PassReport, outcomes []transfer.Outcome) error {
	if err := s.transfers.MarkOutcomes(ctx, outcomes); err != nil {
		return err
	}
	for _, o := range outcomes {
		status := o.Status()
		if status == transfer.StatusSucceeded {
			pr.Succeeded++
		} else {
			pr.Failed++
		}
		metrics.SweepRowsTotal.WithLabelValues(pass, string(status)).Inc()
	}
	return nil
}

// paginate walks unsettled rows matching f, handing each page to fn.
func (s *Sweeper) paginate(ctx context.Context, f transfer.Filter, fn func([]*transfer.Transfer) error) error {
	p := pagination.Pagination{Limit: s.pageSize}
	for {
		rows, info, err := s.transfers.ListUnsettled(ctx, f, p)
		if err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
		if !info.HasMore {
			return nil
		}
		p.Cursor = info.NextCursor
	}
}
